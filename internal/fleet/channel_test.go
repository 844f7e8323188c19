package fleet

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func standardChannel() ChannelConfig {
	return ChannelConfig{
		Name:       "CH01",
		Redundancy: RedundancyStandard,
		Ingest: []IngestPath{
			{AvailabilityZone: "a", Port: 20100, AllowedCIDR: "0.0.0.0/0"},
			{AvailabilityZone: "b", Port: 20101, AllowedCIDR: "0.0.0.0/0"},
		},
		EncodingProfile: "HD-1080p",
	}
}

func TestValidateAcceptsStandardAndSingle(t *testing.T) {
	if err := standardChannel().Validate(); err != nil {
		t.Fatalf("standard channel: %v", err)
	}

	single := standardChannel()
	single.Redundancy = RedundancySingle
	single.Ingest = single.Ingest[:1]
	if err := single.Validate(); err != nil {
		t.Fatalf("single channel: %v", err)
	}
}

func TestValidateRejectsInvalidChannels(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ChannelConfig)
		field  string
		role   string
	}{
		{
			name:   "missing name",
			mutate: func(c *ChannelConfig) { c.Name = "" },
			field:  "name",
		},
		{
			name:   "leading whitespace in name",
			mutate: func(c *ChannelConfig) { c.Name = " CH01" },
			field:  "name",
		},
		{
			name:   "trailing whitespace in name",
			mutate: func(c *ChannelConfig) { c.Name = "CH01\t" },
			field:  "name",
		},
		{
			name:   "unknown redundancy",
			mutate: func(c *ChannelConfig) { c.Redundancy = "triple" },
			field:  "redundancy",
		},
		{
			name:   "standard with one path",
			mutate: func(c *ChannelConfig) { c.Ingest = c.Ingest[:1] },
			field:  "ingest",
		},
		{
			name:   "single with two paths",
			mutate: func(c *ChannelConfig) { c.Redundancy = RedundancySingle },
			field:  "ingest",
		},
		{
			name:   "same availability zone",
			mutate: func(c *ChannelConfig) { c.Ingest[1].AvailabilityZone = "a" },
			field:  "ingest[1].availabilityZone",
			role:   string(RoleIngestBackup),
		},
		{
			name:   "port out of range",
			mutate: func(c *ChannelConfig) { c.Ingest[0].Port = 70000 },
			field:  "ingest[0].port",
			role:   string(RoleIngestMain),
		},
		{
			name:   "bad cidr",
			mutate: func(c *ChannelConfig) { c.Ingest[1].AllowedCIDR = "10.0.0.0/99" },
			field:  "ingest[1].allowedCidr",
			role:   string(RoleIngestBackup),
		},
		{
			name: "decryption on rtp",
			mutate: func(c *ChannelConfig) {
				c.Ingest[0].Transport = TransportRTP
				c.Ingest[0].Decryption = &Decryption{RoleName: "r", SecretName: "s"}
			},
			field: "ingest[0].decryption",
			role:  string(RoleIngestMain),
		},
		{
			name: "decryption without secret",
			mutate: func(c *ChannelConfig) {
				c.Ingest[0].Decryption = &Decryption{RoleName: "r"}
			},
			field: "ingest[0].decryption.secretName",
			role:  string(RoleIngestMain),
		},
		{
			name:   "missing profile",
			mutate: func(c *ChannelConfig) { c.EncodingProfile = " " },
			field:  "encodingProfile",
			role:   string(RoleTranscodeChannel),
		},
		{
			name:   "unknown format",
			mutate: func(c *ChannelConfig) { c.Packaging.Formats = []DeliveryFormat{"dash"} },
			field:  "packaging.formats[0]",
			role:   string(RolePackagingChannel),
		},
		{
			name:   "duplicate format",
			mutate: func(c *ChannelConfig) { c.Packaging.Formats = []DeliveryFormat{DeliveryHLS, DeliveryHLS} },
			field:  "packaging.formats[1]",
			role:   string(RolePackagingChannel),
		},
		{
			name:   "unknown ad markers",
			mutate: func(c *ChannelConfig) { c.Packaging.AdMarkers = "SOMETIMES" },
			field:  "packaging.adMarkers",
			role:   string(RolePackagingChannel),
		},
		{
			name:   "audio pid out of range",
			mutate: func(c *ChannelConfig) { c.Transcode.AudioSelectors = []AudioSelector{{Name: "a", PID: 9000}} },
			field:  "transcode.audioSelectors[0].pid",
			role:   string(RoleTranscodeChannel),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := standardChannel()
			cfg.Ingest = append([]IngestPath(nil), cfg.Ingest...)
			tc.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, cfgErr.Field, err)
			}
			if cfgErr.Role != tc.role {
				t.Fatalf("expected role %q, got %q", tc.role, cfgErr.Role)
			}
		})
	}
}

func TestPackagingDefaults(t *testing.T) {
	params := PackagingParams{}.WithDefaults()
	if params.SegmentDurationSeconds != 4 || params.ManifestWindowSeconds != 60 {
		t.Fatalf("unexpected segment/window defaults: %+v", params)
	}
	if params.StartoverWindowSeconds != 1209600 || params.ProgramDateTimeSeconds != 60 {
		t.Fatalf("unexpected startover/program date defaults: %+v", params)
	}
	if params.AdMarkers != AdMarkersDateRange {
		t.Fatalf("expected DATERANGE ad markers, got %q", params.AdMarkers)
	}
	if params.IncludeIFrameOnlyStream == nil || !*params.IncludeIFrameOnlyStream {
		t.Fatal("expected iframe-only stream enabled by default")
	}
	if len(params.Formats) != 2 || params.Formats[0] != DeliveryHLS || params.Formats[1] != DeliveryCMAF {
		t.Fatalf("unexpected default formats: %v", params.Formats)
	}

	disabled := false
	explicit := PackagingParams{LowLatency: &disabled, Formats: []DeliveryFormat{DeliveryCMAF}}.WithDefaults()
	if *explicit.LowLatency {
		t.Fatal("expected explicit low latency false to survive defaulting")
	}
	if len(explicit.Formats) != 1 {
		t.Fatalf("expected explicit formats to be kept, got %v", explicit.Formats)
	}
}

func TestTeardownRankOrdersPackagingFirst(t *testing.T) {
	kinds := []ResourceKind{KindIngestFlow, KindTranscodeChannel, KindPackagingEndpoint, KindTranscodeInput, KindPackagingChannel}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].TeardownRank() < kinds[j].TeardownRank() })
	want := []ResourceKind{KindPackagingEndpoint, KindPackagingChannel, KindTranscodeChannel, KindTranscodeInput, KindIngestFlow}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
	if ResourceKind("mystery").TeardownRank() <= KindSecret.TeardownRank() {
		t.Fatal("expected unknown kinds to sort last")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	content := `
foundation:
  prefix: livefleet
  resourceGroup: live-group
  cdnHost: cdn.example.com
channels:
  - name: CH01
    redundancy: standard
    encodingProfile: HD-1080p
    ingest:
      - {availabilityZone: a, port: 20100, allowedCidr: 0.0.0.0/0}
      - {availabilityZone: b, port: 20101, allowedCidr: 0.0.0.0/0}
    autoStart:
      flows: true
  - name: CH02
    redundancy: single
    encodingProfile: SD-540p
    ingest:
      - availabilityZone: a
        port: 20200
        allowedCidr: 10.0.0.0/8
        decryption: {roleName: decrypt-role, secretName: srt-passphrase}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fleet file: %v", err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := strings.Join(f.Names(), ","); got != "CH01,CH02" {
		t.Fatalf("unexpected channel names %q", got)
	}
	ch02, ok := f.Channel("CH02")
	if !ok || ch02.Ingest[0].Decryption == nil || ch02.Ingest[0].Decryption.SecretName != "srt-passphrase" {
		t.Fatalf("unexpected CH02 config: %+v", ch02)
	}
	ch01, _ := f.Channel("CH01")
	if !ch01.AutoStart.Flows || ch01.AutoStart.Channel {
		t.Fatalf("unexpected CH01 auto start: %+v", ch01.AutoStart)
	}
}

func TestDecodeRejectsDuplicatesAndUnknownFields(t *testing.T) {
	duplicate := `
foundation: {prefix: lf, resourceGroup: g, cdnHost: cdn.example.com}
channels:
  - {name: CH01, redundancy: single, encodingProfile: SD-540p}
  - {name: CH01, redundancy: single, encodingProfile: SD-540p}
`
	if _, err := Decode(strings.NewReader(duplicate)); !IsConfigurationError(err) {
		t.Fatalf("expected configuration error for duplicate names, got %v", err)
	}

	unknown := `
foundation: {prefix: lf, resourceGroup: g, cdnHost: cdn.example.com}
channels:
  - {name: CH01, colour: blue}
`
	if _, err := Decode(strings.NewReader(unknown)); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}

	badHost := `
foundation: {prefix: lf, resourceGroup: g, cdnHost: "https://cdn.example.com/"}
`
	if _, err := Decode(strings.NewReader(badHost)); !IsConfigurationError(err) {
		t.Fatalf("expected configuration error for CDN host, got %v", err)
	}
}

// TestFleetValidateRejectsPaddedNames verifies that a name with surrounding
// whitespace cannot sit beside its trimmed twin as a distinct channel.
func TestFleetValidateRejectsPaddedNames(t *testing.T) {
	padded := standardChannel()
	padded.Name = " CH01"
	f := Fleet{
		Foundation: FoundationSettings{Prefix: "lf", ResourceGroup: "g", CDNHost: "cdn.example.com"},
		Channels:   []ChannelConfig{standardChannel(), padded},
	}
	err := f.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if cfgErr.Field != "channels[1].name" {
		t.Fatalf("expected channels[1].name, got %q", cfgErr.Field)
	}
}
