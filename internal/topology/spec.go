package topology

import (
	"livefleet/internal/fleet"
	"livefleet/internal/profiles"
)

// Attributes is the closed set of resource spec variants.
type Attributes interface {
	Kind() fleet.ResourceKind
	// Refs lists every handle the attributes hold, in a stable order.
	Refs() []Ref
}

// ResourceSpec is one named resource of a channel topology.
type ResourceSpec struct {
	Name       string             `json:"name"`
	Kind       fleet.ResourceKind `json:"kind"`
	Role       fleet.Role         `json:"role"`
	Channel    string             `json:"channel"`
	DependsOn  []string           `json:"dependsOn,omitempty"`
	Attributes Attributes         `json:"attributes"`
}

// Refs returns the handles held by the spec's attributes.
func (s ResourceSpec) Refs() []Ref {
	if s.Attributes == nil {
		return nil
	}
	return s.Attributes.Refs()
}

// SourceMonitoring enables thumbnails and silence, black and frozen frame
// alerts on an ingest flow.
type SourceMonitoring struct {
	Thumbnails          bool `json:"thumbnails"`
	SilentAudioSeconds  int  `json:"silentAudioSeconds"`
	BlackFramesSeconds  int  `json:"blackFramesSeconds"`
	FrozenFramesSeconds int  `json:"frozenFramesSeconds"`
}

// defaultMonitoringThreshold is applied to every monitored condition.
const defaultMonitoringThreshold = 30

// DecryptionRef carries identity identifiers resolved at compile time.
type DecryptionRef struct {
	RoleID   string `json:"roleId"`
	SecretID string `json:"secretId"`
}

// IngestFlow is one network entry point.
type IngestFlow struct {
	SourceName       string           `json:"sourceName"`
	AvailabilityZone string           `json:"availabilityZone"`
	Transport        fleet.Transport  `json:"transport"`
	Port             int              `json:"port"`
	AllowedCIDR      string           `json:"allowedCidr"`
	Decryption       *DecryptionRef   `json:"decryption,omitempty"`
	Monitoring       SourceMonitoring `json:"monitoring"`
}

func (IngestFlow) Kind() fleet.ResourceKind { return fleet.KindIngestFlow }
func (IngestFlow) Refs() []Ref              { return nil }

// TranscodeInput binds every ingest flow of the channel to the transcoder.
type TranscodeInput struct {
	InputType string `json:"inputType"`
	RoleID    string `json:"roleId"`
	Flows     []Ref  `json:"flows"`
}

func (TranscodeInput) Kind() fleet.ResourceKind { return fleet.KindTranscodeInput }
func (a TranscodeInput) Refs() []Ref            { return append([]Ref(nil), a.Flows...) }

// PackagingChannel accepts CMAF ingest from the transcoder.
type PackagingChannel struct {
	ResourceGroup   string `json:"resourceGroup"`
	ResourceGroupID string `json:"resourceGroupId"`
	InputType       string `json:"inputType"`
	Description     string `json:"description"`
	PublishMQCS     bool   `json:"publishMqcs"`
}

func (PackagingChannel) Kind() fleet.ResourceKind { return fleet.KindPackagingChannel }
func (PackagingChannel) Refs() []Ref              { return nil }

// Manifest is one HLS manifest exposed by an endpoint.
type Manifest struct {
	Name                   string             `json:"name"`
	ChildName              string             `json:"childName"`
	WindowSeconds          int                `json:"windowSeconds"`
	ProgramDateTimeSeconds int                `json:"programDateTimeSeconds"`
	AdMarkers              fleet.AdMarkerMode `json:"adMarkers"`
	LowLatency             bool               `json:"lowLatency"`
}

// CDNAuthorization restricts an endpoint to requests that carry the shared
// CDN authorization header.
type CDNAuthorization struct {
	SecretID string `json:"secretId"`
	RoleID   string `json:"roleId"`
}

// PackagingEndpoint exposes one delivery format of a packaging channel.
type PackagingEndpoint struct {
	Channel                 Ref                  `json:"channel"`
	EndpointName            string               `json:"endpointName"`
	Format                  fleet.DeliveryFormat `json:"format"`
	ContainerType           string               `json:"containerType"`
	SegmentName             string               `json:"segmentName"`
	SegmentDurationSeconds  int                  `json:"segmentDurationSeconds"`
	IncludeIFrameOnlyStream bool                 `json:"includeIFrameOnlyStream"`
	StartoverWindowSeconds  int                  `json:"startoverWindowSeconds"`
	SCTEFilter              []string             `json:"scteFilter"`
	Manifests               []Manifest           `json:"manifests"`
	Authorization           CDNAuthorization     `json:"authorization"`
}

func (PackagingEndpoint) Kind() fleet.ResourceKind { return fleet.KindPackagingEndpoint }
func (a PackagingEndpoint) Refs() []Ref            { return []Ref{a.Channel} }

// OutputGroupType is the shape of the transcode channel's output group.
type OutputGroupType string

const (
	// OutputGroupRedundantPush pushes CMAF ingest to both packaging ingest
	// endpoints.
	OutputGroupRedundantPush OutputGroupType = "redundant-push"
	// OutputGroupSingleDestination pushes to one packaging ingest endpoint.
	OutputGroupSingleDestination OutputGroupType = "single-destination"
)

// Destination is where an output group pushes. URLs are handles on the
// packaging channel's ingest endpoint outputs.
type Destination struct {
	ID   string `json:"id"`
	URLs []Ref  `json:"urls"`
}

// OutputSettings are per-output CMAF ingest settings.
type OutputSettings struct {
	profiles.Output
	NameModifier string `json:"nameModifier"`
}

// OutputGroup is the instantiated output group of a transcode channel.
type OutputGroup struct {
	Type               OutputGroupType  `json:"type"`
	Name               string           `json:"name"`
	DestinationRef     string           `json:"destinationRef"`
	SegmentLength      int              `json:"segmentLength"`
	SegmentLengthUnits string           `json:"segmentLengthUnits"`
	ID3Behavior        string           `json:"id3Behavior"`
	SCTE35Type         string           `json:"scte35Type"`
	TimedMetadataFrame string           `json:"timedMetadataId3Frame"`
	TimedMetadataSecs  int              `json:"timedMetadataId3Period"`
	Outputs            []OutputSettings `json:"outputs"`
}

// AudioPIDSelector picks a transport stream audio track by PID.
type AudioPIDSelector struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

// InputAttachment attaches the transcode input, fed by one ingest flow, to
// the transcode channel.
type InputAttachment struct {
	Name           string             `json:"name"`
	Input          Ref                `json:"input"`
	SourceFlow     Ref                `json:"sourceFlow"`
	AudioSelectors []AudioPIDSelector `json:"audioSelectors"`
}

// InputSpecification describes the source the transcoder should expect.
type InputSpecification struct {
	Codec          string `json:"codec"`
	Resolution     string `json:"resolution"`
	MaximumBitrate string `json:"maximumBitrate"`
}

// TranscodeChannel is the encoder. It depends on the packaging channel's
// post-creation ingest endpoints.
type TranscodeChannel struct {
	ChannelClass      string                   `json:"channelClass"`
	RoleID            string                   `json:"roleId"`
	Profile           string                   `json:"profile"`
	SourceEndBehavior string                   `json:"sourceEndBehavior"`
	InputSpec         InputSpecification       `json:"inputSpecification"`
	Attachments       []InputAttachment        `json:"inputAttachments"`
	Destinations      []Destination            `json:"destinations"`
	OutputGroup       OutputGroup              `json:"outputGroup"`
	Encoder           profiles.EncoderTemplate `json:"encoder"`
	LogLevel          string                   `json:"logLevel"`
}

func (TranscodeChannel) Kind() fleet.ResourceKind { return fleet.KindTranscodeChannel }

func (a TranscodeChannel) Refs() []Ref {
	refs := make([]Ref, 0, 2*len(a.Attachments)+2)
	for _, att := range a.Attachments {
		refs = append(refs, att.Input, att.SourceFlow)
	}
	for _, dest := range a.Destinations {
		refs = append(refs, dest.URLs...)
	}
	return refs
}
