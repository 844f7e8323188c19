package topology

import (
	"context"
	"errors"
	"fmt"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
	"livefleet/internal/foundation"
	"livefleet/internal/profiles"
)

// ProfileSource looks up encoding profiles by name.
type ProfileSource interface {
	Lookup(name string) (profiles.Profile, error)
}

// Compiler turns a channel configuration into its resource topology. It
// holds no mutable state and is safe for concurrent use across channels.
type Compiler struct {
	profiles ProfileSource
	identity control.IdentityResolver
}

// NewCompiler builds a compiler. identity may be nil when no channel uses
// ingest decryption.
func NewCompiler(profiles ProfileSource, identity control.IdentityResolver) *Compiler {
	return &Compiler{profiles: profiles, identity: identity}
}

const (
	destinationRefID     = "media-destination"
	transcodeInputType   = "INGEST_FLOW"
	packagingInputType   = "CMAF"
	transcodeLogLevel    = "WARNING"
	segmentName          = "segment"
	multiVariantManifest = "index"
	variantManifest      = "variant"
	lowLatencyManifest   = "ll-index"
	lowLatencyVariant    = "ll-variant"
)

var endpointNames = map[fleet.DeliveryFormat]string{
	fleet.DeliveryHLS:  "ts",
	fleet.DeliveryCMAF: "cmaf",
}

var containerTypes = map[fleet.DeliveryFormat]string{
	fleet.DeliveryHLS:  "TS",
	fleet.DeliveryCMAF: "CMAF",
}

var channelClasses = map[fleet.RedundancyClass]string{
	fleet.RedundancyStandard: "STANDARD",
	fleet.RedundancySingle:   "SINGLE_PIPELINE",
}

// Compile validates cfg and derives its topology. It either returns the
// complete topology or an error and no specs. Errors are
// *fleet.ConfigurationError, *fleet.ReferenceNotFoundError, or a wrapped
// identity-service failure.
func (c *Compiler) Compile(ctx context.Context, cfg fleet.ChannelConfig, shared *foundation.Shared) (Topology, error) {
	if shared == nil {
		return Topology{}, &fleet.ConfigurationError{Channel: cfg.Name, Field: "foundation", Reason: "shared foundation is required"}
	}
	if err := cfg.Validate(); err != nil {
		return Topology{}, err
	}
	profile, err := c.lookupProfile(cfg)
	if err != nil {
		return Topology{}, err
	}
	transcode := cfg.Transcode.WithDefaults()
	if err := checkSelectors(cfg.Name, profile, transcode.AudioSelectors); err != nil {
		return Topology{}, err
	}
	packaging := cfg.Packaging.WithDefaults()

	flows, err := c.ingestFlows(ctx, cfg)
	if err != nil {
		return Topology{}, err
	}
	specs := append([]ResourceSpec(nil), flows...)

	input := c.transcodeInput(cfg, flows, shared)
	specs = append(specs, input)

	pkgChannel := packagingChannel(cfg, shared)
	specs = append(specs, pkgChannel)
	endpoints := packagingEndpoints(cfg, packaging, pkgChannel.Name, shared)
	specs = append(specs, endpoints...)

	specs = append(specs, transcodeChannel(cfg, transcode, profile, shared, flows, input.Name, pkgChannel.Name))

	top := Topology{
		Channel:    cfg.Name,
		Redundancy: cfg.Redundancy,
		AutoStart:  cfg.AutoStart,
		Specs:      specs,
		Playback:   playbackURLs(cfg.Name, packaging, shared),
	}
	if err := top.CheckOrder(); err != nil {
		return Topology{}, fmt.Errorf("channel %q: %w", cfg.Name, err)
	}
	return top, nil
}

func (c *Compiler) lookupProfile(cfg fleet.ChannelConfig) (profiles.Profile, error) {
	if c.profiles == nil {
		return profiles.Profile{}, &fleet.ConfigurationError{Channel: cfg.Name, Role: string(fleet.RoleTranscodeChannel), Field: "encodingProfile", Reason: "no encoding profile registry configured"}
	}
	profile, err := c.profiles.Lookup(cfg.EncodingProfile)
	if err != nil {
		var cfgErr *fleet.ConfigurationError
		if errors.As(err, &cfgErr) {
			scoped := *cfgErr
			scoped.Channel = cfg.Name
			return profiles.Profile{}, &scoped
		}
		return profiles.Profile{}, err
	}
	return profile, nil
}

func checkSelectors(channel string, profile profiles.Profile, selectors []fleet.AudioSelector) error {
	declared := make(map[string]bool, len(selectors))
	for _, sel := range selectors {
		declared[sel.Name] = true
	}
	for _, name := range profile.AudioSelectors() {
		if !declared[name] {
			return &fleet.ConfigurationError{
				Channel: channel,
				Role:    string(fleet.RoleTranscodeChannel),
				Field:   "transcode.audioSelectors",
				Reason:  fmt.Sprintf("profile %s reads audio selector %q which the channel does not declare", profile.Name, name),
			}
		}
	}
	return nil
}

func (c *Compiler) ingestFlows(ctx context.Context, cfg fleet.ChannelConfig) ([]ResourceSpec, error) {
	resolved := make(map[string]string)
	resolve := func(role fleet.Role, kind fleet.ReferenceKind, name string) (string, error) {
		key := string(kind) + "/" + name
		if id, ok := resolved[key]; ok {
			return id, nil
		}
		if c.identity == nil {
			return "", fmt.Errorf("channel %q role %s: no identity resolver configured for %s %q", cfg.Name, role, kind, name)
		}
		var (
			id  string
			err error
		)
		switch kind {
		case fleet.ReferenceRole:
			id, err = c.identity.ResolveRole(ctx, name)
		case fleet.ReferenceSecret:
			id, err = c.identity.ResolveSecret(ctx, name)
		}
		if errors.Is(err, fleet.ErrNotFound) {
			return "", &fleet.ReferenceNotFoundError{Channel: cfg.Name, Role: string(role), Kind: kind, Name: name}
		}
		if err != nil {
			return "", fmt.Errorf("channel %q role %s: resolve %s %q: %w", cfg.Name, role, kind, name, err)
		}
		resolved[key] = id
		return id, nil
	}

	specs := make([]ResourceSpec, 0, len(cfg.Ingest))
	for i, path := range cfg.Ingest {
		role := fleet.IngestRole(i)
		attrs := IngestFlow{
			SourceName:       sourceName(role),
			AvailabilityZone: path.AvailabilityZone,
			Transport:        path.TransportOrDefault(),
			Port:             path.Port,
			AllowedCIDR:      path.AllowedCIDR,
			Monitoring: SourceMonitoring{
				Thumbnails:          true,
				SilentAudioSeconds:  defaultMonitoringThreshold,
				BlackFramesSeconds:  defaultMonitoringThreshold,
				FrozenFramesSeconds: defaultMonitoringThreshold,
			},
		}
		if path.Decryption != nil {
			roleID, err := resolve(role, fleet.ReferenceRole, path.Decryption.RoleName)
			if err != nil {
				return nil, err
			}
			secretID, err := resolve(role, fleet.ReferenceSecret, path.Decryption.SecretName)
			if err != nil {
				return nil, err
			}
			attrs.Decryption = &DecryptionRef{RoleID: roleID, SecretID: secretID}
		}
		specs = append(specs, newSpec(cfg.Name, role, attrs))
	}
	return specs, nil
}

func sourceName(role fleet.Role) string {
	if role == fleet.RoleIngestMain {
		return "MAIN-SOURCE"
	}
	return "BACKUP-SOURCE"
}

func (c *Compiler) transcodeInput(cfg fleet.ChannelConfig, flows []ResourceSpec, shared *foundation.Shared) ResourceSpec {
	refs := make([]Ref, len(flows))
	for i, flow := range flows {
		refs[i] = IDOf(flow.Name)
	}
	return newSpec(cfg.Name, fleet.RoleTranscodeInput, TranscodeInput{
		InputType: transcodeInputType,
		RoleID:    shared.TranscodeRoleID(),
		Flows:     refs,
	})
}

func packagingChannel(cfg fleet.ChannelConfig, shared *foundation.Shared) ResourceSpec {
	return newSpec(cfg.Name, fleet.RolePackagingChannel, PackagingChannel{
		ResourceGroup:   shared.ResourceGroupName(),
		ResourceGroupID: shared.ResourceGroupID(),
		InputType:       packagingInputType,
		Description:     fmt.Sprintf("Channel %s with CMAF ingest", cfg.Name),
		PublishMQCS:     true,
	})
}

func packagingEndpoints(cfg fleet.ChannelConfig, params fleet.PackagingParams, channelSpec string, shared *foundation.Shared) []ResourceSpec {
	specs := make([]ResourceSpec, 0, len(params.Formats))
	for _, format := range params.Formats {
		manifests := []Manifest{{
			Name:                   multiVariantManifest,
			ChildName:              variantManifest,
			WindowSeconds:          params.ManifestWindowSeconds,
			ProgramDateTimeSeconds: params.ProgramDateTimeSeconds,
			AdMarkers:              params.AdMarkers,
		}}
		if format == fleet.DeliveryCMAF && *params.LowLatency {
			manifests = append(manifests, Manifest{
				Name:                   lowLatencyManifest,
				ChildName:              lowLatencyVariant,
				WindowSeconds:          params.ManifestWindowSeconds,
				ProgramDateTimeSeconds: params.ProgramDateTimeSeconds,
				AdMarkers:              params.AdMarkers,
				LowLatency:             true,
			})
		}
		specs = append(specs, newSpec(cfg.Name, fleet.EndpointRole(format), PackagingEndpoint{
			Channel:                 IDOf(channelSpec),
			EndpointName:            endpointNames[format],
			Format:                  format,
			ContainerType:           containerTypes[format],
			SegmentName:             segmentName,
			SegmentDurationSeconds:  params.SegmentDurationSeconds,
			IncludeIFrameOnlyStream: *params.IncludeIFrameOnlyStream,
			StartoverWindowSeconds:  params.StartoverWindowSeconds,
			SCTEFilter:              append([]string(nil), params.SCTEFilter...),
			Manifests:               manifests,
			Authorization: CDNAuthorization{
				SecretID: shared.AuthSecretID(),
				RoleID:   shared.PackagingRoleID(),
			},
		}))
	}
	return specs
}

// ingestEndpointHandles lists the packaging ingest endpoints the transcoder
// pushes to: both for a standard channel, the first only for a single
// pipeline.
func ingestEndpointHandles(redundancy fleet.RedundancyClass, channelSpec string) []Ref {
	handles := []Ref{{Spec: channelSpec, Output: OutputIngestEndpoint1}}
	if redundancy == fleet.RedundancyStandard {
		handles = append(handles, Ref{Spec: channelSpec, Output: OutputIngestEndpoint2})
	}
	return handles
}

// selectOutputGroup is the structural output group rule: two resolved
// ingest endpoints yield the redundant push group, anything else the
// single-destination group.
func selectOutputGroup(endpoints []Ref) OutputGroupType {
	if len(endpoints) == 2 {
		return OutputGroupRedundantPush
	}
	return OutputGroupSingleDestination
}

func transcodeChannel(cfg fleet.ChannelConfig, params fleet.TranscodeParams, profile profiles.Profile, shared *foundation.Shared, flows []ResourceSpec, inputSpec, channelSpec string) ResourceSpec {
	endpoints := ingestEndpointHandles(cfg.Redundancy, channelSpec)
	encoder := profile.Instantiate(profiles.Vars{Channel: cfg.Name, Destination: destinationRefID})

	outputs := make([]OutputSettings, len(encoder.Outputs))
	for i, out := range encoder.Outputs {
		outputs[i] = OutputSettings{Output: out, NameModifier: fmt.Sprintf("_%d", i+1)}
	}

	selectors := make([]AudioPIDSelector, len(params.AudioSelectors))
	for i, sel := range params.AudioSelectors {
		selectors[i] = AudioPIDSelector{Name: sel.Name, PID: sel.PID}
	}
	attachments := make([]InputAttachment, len(flows))
	for i, flow := range flows {
		attachments[i] = InputAttachment{
			Name:           fmt.Sprintf("%s-%s", fleet.ResourceName(cfg.Name, fleet.RoleTranscodeInput), flow.Role),
			Input:          IDOf(inputSpec),
			SourceFlow:     IDOf(flow.Name),
			AudioSelectors: append([]AudioPIDSelector(nil), selectors...),
		}
	}

	spec := newSpec(cfg.Name, fleet.RoleTranscodeChannel, TranscodeChannel{
		ChannelClass:      channelClasses[cfg.Redundancy],
		RoleID:            shared.TranscodeRoleID(),
		Profile:           profile.Name,
		SourceEndBehavior: params.SourceEndBehavior,
		InputSpec: InputSpecification{
			Codec:          params.Codec,
			Resolution:     profile.Resolution,
			MaximumBitrate: profile.MaxBitrate,
		},
		Attachments:  attachments,
		Destinations: []Destination{{ID: destinationRefID, URLs: endpoints}},
		OutputGroup: OutputGroup{
			Type:               selectOutputGroup(endpoints),
			Name:               encoder.OutputGroupName,
			DestinationRef:     destinationRefID,
			SegmentLength:      params.IngestSegmentSeconds,
			SegmentLengthUnits: "SECONDS",
			ID3Behavior:        "ENABLED",
			SCTE35Type:         "SCTE_35_WITHOUT_SEGMENTATION",
			TimedMetadataFrame: "PRIV",
			TimedMetadataSecs:  10,
			Outputs:            outputs,
		},
		Encoder:  encoder,
		LogLevel: transcodeLogLevel,
	})
	return spec
}

func playbackURLs(channel string, params fleet.PackagingParams, shared *foundation.Shared) []PlaybackURL {
	urls := make([]PlaybackURL, 0, len(params.Formats))
	for _, format := range params.Formats {
		base := fmt.Sprintf("https://%s/out/v1/%s/%s/%s/", shared.CDNHost(), shared.ResourceGroupName(), channel, endpointNames[format])
		url := PlaybackURL{
			Endpoint: endpointNames[format],
			Format:   format,
			URL:      base + multiVariantManifest + ".m3u8",
		}
		if format == fleet.DeliveryCMAF && *params.LowLatency {
			url.LowLatencyURL = base + lowLatencyManifest + ".m3u8"
		}
		urls = append(urls, url)
	}
	return urls
}

// newSpec names the spec after its role and derives DependsOn from the
// handles its attributes hold.
func newSpec(channel string, role fleet.Role, attrs Attributes) ResourceSpec {
	spec := ResourceSpec{
		Name:       fleet.ResourceName(channel, role),
		Kind:       attrs.Kind(),
		Role:       role,
		Channel:    channel,
		Attributes: attrs,
	}
	seen := make(map[string]bool)
	for _, ref := range attrs.Refs() {
		if !seen[ref.Spec] {
			seen[ref.Spec] = true
			spec.DependsOn = append(spec.DependsOn, ref.Spec)
		}
	}
	return spec
}
