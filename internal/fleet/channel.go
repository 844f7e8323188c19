package fleet

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// RedundancyClass determines how many parallel ingest and transcode paths a
// channel runs.
type RedundancyClass string

const (
	RedundancySingle   RedundancyClass = "single"
	RedundancyStandard RedundancyClass = "standard"
)

// PathCount returns the number of ingest paths the class requires.
func (r RedundancyClass) PathCount() (int, bool) {
	switch r {
	case RedundancySingle:
		return 1, true
	case RedundancyStandard:
		return 2, true
	default:
		return 0, false
	}
}

// Transport is the protocol an ingest flow listens with.
type Transport string

const (
	TransportSRTListener Transport = "srt-listener"
	TransportRTP         Transport = "rtp"
	TransportZixiPush    Transport = "zixi-push"
)

// SupportsDecryption reports whether the transport can carry an encrypted
// source.
func (t Transport) SupportsDecryption() bool {
	switch t {
	case TransportSRTListener, TransportZixiPush:
		return true
	default:
		return false
	}
}

func (t Transport) valid() bool {
	switch t {
	case TransportSRTListener, TransportRTP, TransportZixiPush:
		return true
	default:
		return false
	}
}

// Decryption names the role and secret an ingest flow uses to decrypt its
// source. Both are resolved by name when the channel is compiled.
type Decryption struct {
	RoleName   string `yaml:"roleName" json:"roleName"`
	SecretName string `yaml:"secretName" json:"secretName"`
}

// IngestPath is the transport configuration for one ingest flow.
type IngestPath struct {
	AvailabilityZone string      `yaml:"availabilityZone" json:"availabilityZone"`
	Port             int         `yaml:"port" json:"port"`
	AllowedCIDR      string      `yaml:"allowedCidr" json:"allowedCidr"`
	Transport        Transport   `yaml:"transport,omitempty" json:"transport,omitempty"`
	Decryption       *Decryption `yaml:"decryption,omitempty" json:"decryption,omitempty"`
}

// TransportOrDefault returns the configured transport, defaulting to an SRT
// listener.
func (p IngestPath) TransportOrDefault() Transport {
	if p.Transport == "" {
		return TransportSRTListener
	}
	return p.Transport
}

// AudioSelector picks an audio track from a transport stream source by PID.
type AudioSelector struct {
	Name string `yaml:"name" json:"name"`
	PID  int    `yaml:"pid" json:"pid"`
}

// TranscodeParams configure the transcode channel independent of the
// encoding profile.
type TranscodeParams struct {
	Codec                string          `yaml:"codec,omitempty" json:"codec,omitempty"`
	SourceEndBehavior    string          `yaml:"sourceEndBehavior,omitempty" json:"sourceEndBehavior,omitempty"`
	IngestSegmentSeconds int             `yaml:"ingestSegmentSeconds,omitempty" json:"ingestSegmentSeconds,omitempty"`
	AudioSelectors       []AudioSelector `yaml:"audioSelectors,omitempty" json:"audioSelectors,omitempty"`
}

// DefaultAudioSelectors are attached when a channel does not declare its own.
var DefaultAudioSelectors = []AudioSelector{
	{Name: "audio_selector_arabic", PID: 102},
	{Name: "audio_selector_english", PID: 103},
	{Name: "audio_selector_original", PID: 104},
	{Name: "audio_selector_arabic2", PID: 105},
}

// WithDefaults fills unset optional transcode fields.
func (t TranscodeParams) WithDefaults() TranscodeParams {
	if t.Codec == "" {
		t.Codec = "AVC"
	}
	if t.SourceEndBehavior == "" {
		t.SourceEndBehavior = "CONTINUE"
	}
	if t.IngestSegmentSeconds == 0 {
		t.IngestSegmentSeconds = 1
	}
	if len(t.AudioSelectors) == 0 {
		t.AudioSelectors = append([]AudioSelector(nil), DefaultAudioSelectors...)
	} else {
		t.AudioSelectors = append([]AudioSelector(nil), t.AudioSelectors...)
	}
	return t
}

// AutoStart controls which resources are started once a channel has been
// applied.
type AutoStart struct {
	Flows   bool `yaml:"flows" json:"flows"`
	Channel bool `yaml:"channel" json:"channel"`
}

// ChannelConfig is the declarative description of one live channel.
type ChannelConfig struct {
	Name            string          `yaml:"name" json:"name"`
	Redundancy      RedundancyClass `yaml:"redundancy" json:"redundancy"`
	Ingest          []IngestPath    `yaml:"ingest" json:"ingest"`
	EncodingProfile string          `yaml:"encodingProfile" json:"encodingProfile"`
	Transcode       TranscodeParams `yaml:"transcode,omitempty" json:"transcode,omitempty"`
	Packaging       PackagingParams `yaml:"packaging,omitempty" json:"packaging,omitempty"`
	AutoStart       AutoStart       `yaml:"autoStart,omitempty" json:"autoStart,omitempty"`
}

var channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

var (
	validCodecs      = map[string]bool{"AVC": true, "HEVC": true, "MPEG2": true}
	validEndBehavior = map[string]bool{"CONTINUE": true, "LOOP": true}
)

// Validate checks the channel against the redundancy invariant and the field
// constraints. The first violation is returned as a *ConfigurationError.
func (c ChannelConfig) Validate() error {
	name := c.Name
	if strings.TrimSpace(name) == "" {
		return invalid("", "name", "channel name is required")
	}
	if !channelNamePattern.MatchString(name) {
		return invalid(name, "name", "%q must match %s", name, channelNamePattern.String())
	}

	want, ok := c.Redundancy.PathCount()
	if !ok {
		return invalid(name, "redundancy", "unknown redundancy class %q", c.Redundancy)
	}
	if len(c.Ingest) != want {
		return invalid(name, "ingest", "redundancy %s requires exactly %d ingest paths, got %d", c.Redundancy, want, len(c.Ingest))
	}

	zones := make(map[string]int, len(c.Ingest))
	for i, path := range c.Ingest {
		if err := validatePath(name, i, path); err != nil {
			return err
		}
		zone := strings.TrimSpace(path.AvailabilityZone)
		if prev, seen := zones[zone]; seen {
			err := invalid(name, fmt.Sprintf("ingest[%d].availabilityZone", i), "must differ from ingest[%d] (%s)", prev, zone)
			err.Role = string(IngestRole(i))
			return err
		}
		zones[zone] = i
	}

	if strings.TrimSpace(c.EncodingProfile) == "" {
		err := invalid(name, "encodingProfile", "encoding profile is required")
		err.Role = string(RoleTranscodeChannel)
		return err
	}
	if err := c.validateTranscode(name); err != nil {
		return err
	}
	return c.Packaging.validate(name)
}

func validatePath(channel string, i int, path IngestPath) error {
	field := func(name string) string { return fmt.Sprintf("ingest[%d].%s", i, name) }
	fail := func(f, format string, args ...any) error {
		err := invalid(channel, field(f), format, args...)
		err.Role = string(IngestRole(i))
		return err
	}

	if strings.TrimSpace(path.AvailabilityZone) == "" {
		return fail("availabilityZone", "availability zone is required")
	}
	if path.Port < 1 || path.Port > 65535 {
		return fail("port", "port %d out of range", path.Port)
	}
	if strings.TrimSpace(path.AllowedCIDR) == "" {
		return fail("allowedCidr", "CIDR allowlist is required")
	}
	if _, err := netip.ParsePrefix(strings.TrimSpace(path.AllowedCIDR)); err != nil {
		return fail("allowedCidr", "invalid CIDR %q", path.AllowedCIDR)
	}
	transport := path.TransportOrDefault()
	if !transport.valid() {
		return fail("transport", "unknown transport %q", path.Transport)
	}
	if path.Decryption != nil {
		if !transport.SupportsDecryption() {
			return fail("decryption", "transport %s does not support decryption", transport)
		}
		if strings.TrimSpace(path.Decryption.RoleName) == "" {
			return fail("decryption.roleName", "decryption role name is required")
		}
		if strings.TrimSpace(path.Decryption.SecretName) == "" {
			return fail("decryption.secretName", "decryption secret name is required")
		}
	}
	return nil
}

func (c ChannelConfig) validateTranscode(channel string) error {
	fail := func(f, format string, args ...any) error {
		err := invalid(channel, "transcode."+f, format, args...)
		err.Role = string(RoleTranscodeChannel)
		return err
	}
	t := c.Transcode
	if t.Codec != "" && !validCodecs[t.Codec] {
		return fail("codec", "unknown codec %q", t.Codec)
	}
	if t.SourceEndBehavior != "" && !validEndBehavior[t.SourceEndBehavior] {
		return fail("sourceEndBehavior", "unknown source end behavior %q", t.SourceEndBehavior)
	}
	if t.IngestSegmentSeconds < 0 {
		return fail("ingestSegmentSeconds", "must not be negative")
	}
	seen := make(map[string]bool, len(t.AudioSelectors))
	for i, selector := range t.AudioSelectors {
		if strings.TrimSpace(selector.Name) == "" {
			return fail(fmt.Sprintf("audioSelectors[%d].name", i), "selector name is required")
		}
		if seen[selector.Name] {
			return fail(fmt.Sprintf("audioSelectors[%d].name", i), "duplicate selector %q", selector.Name)
		}
		seen[selector.Name] = true
		if selector.PID < 1 || selector.PID > 8191 {
			return fail(fmt.Sprintf("audioSelectors[%d].pid", i), "PID %d out of range", selector.PID)
		}
	}
	return nil
}
