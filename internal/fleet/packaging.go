package fleet

import "fmt"

// DeliveryFormat is a packaging endpoint container format.
type DeliveryFormat string

const (
	// DeliveryHLS packages transport stream segments behind an HLS manifest.
	DeliveryHLS DeliveryFormat = "hls"
	// DeliveryCMAF packages fragmented MP4 segments behind HLS and, when
	// low latency is enabled, LL-HLS manifests.
	DeliveryCMAF DeliveryFormat = "cmaf"
)

func (f DeliveryFormat) valid() bool {
	return f == DeliveryHLS || f == DeliveryCMAF
}

// AdMarkerMode selects how ad markers are written into playlists.
type AdMarkerMode string

const (
	AdMarkersDateRange      AdMarkerMode = "DATERANGE"
	AdMarkersSCTE35Enhanced AdMarkerMode = "SCTE35_ENHANCED"
	AdMarkersPassthrough    AdMarkerMode = "PASSTHROUGH"
)

const (
	DefaultSegmentDurationSeconds = 4
	DefaultManifestWindowSeconds  = 60
	DefaultProgramDateTimeSeconds = 60
	DefaultStartoverWindowSeconds = 1209600
	maxStartoverWindowSeconds     = 1209600
)

// DefaultDeliveryFormats are enabled when a channel does not list its own.
var DefaultDeliveryFormats = []DeliveryFormat{DeliveryHLS, DeliveryCMAF}

// DefaultSCTEFilter lists the SCTE-35 message types kept in manifests when no
// filter is configured.
var DefaultSCTEFilter = []string{"SPLICE_INSERT", "BREAK", "PROVIDER_ADVERTISEMENT", "DISTRIBUTOR_ADVERTISEMENT"}

// PackagingParams map 1:1 onto packaging channel and endpoint attributes.
// Pointer fields distinguish unset from an explicit false.
type PackagingParams struct {
	SegmentDurationSeconds  int              `yaml:"segmentDurationSeconds,omitempty" json:"segmentDurationSeconds,omitempty"`
	ManifestWindowSeconds   int              `yaml:"manifestWindowSeconds,omitempty" json:"manifestWindowSeconds,omitempty"`
	ProgramDateTimeSeconds  int              `yaml:"programDateTimeSeconds,omitempty" json:"programDateTimeSeconds,omitempty"`
	StartoverWindowSeconds  int              `yaml:"startoverWindowSeconds,omitempty" json:"startoverWindowSeconds,omitempty"`
	AdMarkers               AdMarkerMode     `yaml:"adMarkers,omitempty" json:"adMarkers,omitempty"`
	IncludeIFrameOnlyStream *bool            `yaml:"includeIFrameOnlyStream,omitempty" json:"includeIFrameOnlyStream,omitempty"`
	LowLatency              *bool            `yaml:"lowLatency,omitempty" json:"lowLatency,omitempty"`
	Formats                 []DeliveryFormat `yaml:"formats,omitempty" json:"formats,omitempty"`
	SCTEFilter              []string         `yaml:"scteFilter,omitempty" json:"scteFilter,omitempty"`
}

// WithDefaults returns a copy with every unset optional field defaulted.
func (p PackagingParams) WithDefaults() PackagingParams {
	if p.SegmentDurationSeconds == 0 {
		p.SegmentDurationSeconds = DefaultSegmentDurationSeconds
	}
	if p.ManifestWindowSeconds == 0 {
		p.ManifestWindowSeconds = DefaultManifestWindowSeconds
	}
	if p.ProgramDateTimeSeconds == 0 {
		p.ProgramDateTimeSeconds = DefaultProgramDateTimeSeconds
	}
	if p.StartoverWindowSeconds == 0 {
		p.StartoverWindowSeconds = DefaultStartoverWindowSeconds
	}
	if p.AdMarkers == "" {
		p.AdMarkers = AdMarkersDateRange
	}
	if p.IncludeIFrameOnlyStream == nil {
		p.IncludeIFrameOnlyStream = boolPtr(true)
	} else {
		p.IncludeIFrameOnlyStream = boolPtr(*p.IncludeIFrameOnlyStream)
	}
	if p.LowLatency == nil {
		p.LowLatency = boolPtr(true)
	} else {
		p.LowLatency = boolPtr(*p.LowLatency)
	}
	if len(p.Formats) == 0 {
		p.Formats = append([]DeliveryFormat(nil), DefaultDeliveryFormats...)
	} else {
		p.Formats = append([]DeliveryFormat(nil), p.Formats...)
	}
	if len(p.SCTEFilter) == 0 {
		p.SCTEFilter = append([]string(nil), DefaultSCTEFilter...)
	} else {
		p.SCTEFilter = append([]string(nil), p.SCTEFilter...)
	}
	return p
}

func (p PackagingParams) validate(channel string) error {
	fail := func(field, format string, args ...any) error {
		err := invalid(channel, "packaging."+field, format, args...)
		err.Role = string(RolePackagingChannel)
		return err
	}
	if p.SegmentDurationSeconds < 0 || p.SegmentDurationSeconds > 30 {
		return fail("segmentDurationSeconds", "must be between 1 and 30")
	}
	if p.ManifestWindowSeconds < 0 {
		return fail("manifestWindowSeconds", "must not be negative")
	}
	if p.ManifestWindowSeconds > 0 && p.SegmentDurationSeconds > 0 && p.ManifestWindowSeconds < p.SegmentDurationSeconds {
		return fail("manifestWindowSeconds", "window %ds shorter than segment duration %ds", p.ManifestWindowSeconds, p.SegmentDurationSeconds)
	}
	if p.ProgramDateTimeSeconds < 0 {
		return fail("programDateTimeSeconds", "must not be negative")
	}
	if p.StartoverWindowSeconds < 0 || p.StartoverWindowSeconds > maxStartoverWindowSeconds {
		return fail("startoverWindowSeconds", "must be between 0 and %d", maxStartoverWindowSeconds)
	}
	switch p.AdMarkers {
	case "", AdMarkersDateRange, AdMarkersSCTE35Enhanced, AdMarkersPassthrough:
	default:
		return fail("adMarkers", "unknown ad marker mode %q", p.AdMarkers)
	}
	seen := make(map[DeliveryFormat]bool, len(p.Formats))
	for i, format := range p.Formats {
		if !format.valid() {
			return fail(fmt.Sprintf("formats[%d]", i), "unknown delivery format %q", format)
		}
		if seen[format] {
			return fail(fmt.Sprintf("formats[%d]", i), "duplicate delivery format %q", format)
		}
		seen[format] = true
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }
