// Package fleet defines the declarative model of a live-video channel fleet.
//
// A Fleet lists the shared foundation settings and an ordered set of
// ChannelConfig records. Each channel declares its redundancy class, one
// IngestPath per redundant path, the name of an encoding profile and its
// packaging parameters. The redundancy class is a closed set: a standard
// channel has exactly two ingest paths in distinct availability zones and a
// single channel has exactly one.
//
// Validation failures are reported as *ConfigurationError values naming the
// channel, the resource role and the offending field. Name lookups against
// the identity service that fail are reported as *ReferenceNotFoundError.
//
// The package also holds the vocabulary shared by the compiler and the
// reconciler: ResourceKind with its teardown rank, and the Role names from
// which "{channel}-{role}" resource names are derived.
package fleet
