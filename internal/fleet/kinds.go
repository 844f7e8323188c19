package fleet

// ResourceKind identifies the type of an externally managed resource.
type ResourceKind string

const (
	KindIngestFlow        ResourceKind = "ingest-flow"
	KindTranscodeInput    ResourceKind = "transcode-input"
	KindTranscodeChannel  ResourceKind = "transcode-channel"
	KindPackagingChannel  ResourceKind = "packaging-channel"
	KindPackagingEndpoint ResourceKind = "packaging-endpoint"

	// Foundation kinds are shared across the fleet and never owned by a
	// channel.
	KindSecret        ResourceKind = "secret"
	KindRole          ResourceKind = "role"
	KindResourceGroup ResourceKind = "resource-group"
)

// teardownRank orders deletion: lower ranks are removed first. Packaging
// resources go before transcode resources, which go before ingest.
var teardownRank = map[ResourceKind]int{
	KindPackagingEndpoint: 0,
	KindPackagingChannel:  1,
	KindTranscodeChannel:  2,
	KindTranscodeInput:    3,
	KindIngestFlow:        4,
	KindResourceGroup:     5,
	KindRole:              6,
	KindSecret:            7,
}

// TeardownRank returns the deletion rank of the kind. Unknown kinds sort
// last.
func (k ResourceKind) TeardownRank() int {
	if rank, ok := teardownRank[k]; ok {
		return rank
	}
	return len(teardownRank)
}

// Known reports whether k is one of the declared kinds.
func (k ResourceKind) Known() bool {
	_, ok := teardownRank[k]
	return ok
}

// Role is the position a resource occupies within a channel. Resource names
// are derived as "{channel}-{role}".
type Role string

const (
	RoleIngestMain       Role = "ingest-main"
	RoleIngestBackup     Role = "ingest-backup"
	RoleTranscodeInput   Role = "transcode-input"
	RolePackagingChannel Role = "packaging-channel"
	RoleTranscodeChannel Role = "transcode-channel"
)

// EndpointRole returns the role of the packaging endpoint for a delivery
// format.
func EndpointRole(format DeliveryFormat) Role {
	return Role("endpoint-" + string(format))
}

// IngestRole returns the role for the ingest path at index i.
func IngestRole(i int) Role {
	if i == 0 {
		return RoleIngestMain
	}
	return RoleIngestBackup
}

// ResourceName derives the stable resource name of a role within a channel.
func ResourceName(channel string, role Role) string {
	return channel + "-" + string(role)
}
