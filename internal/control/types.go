package control

import (
	"context"
	"encoding/json"

	"livefleet/internal/fleet"
)

// State is the lifecycle state of a remote resource.
type State string

const (
	StateAbsent   State = "absent"
	StateCreating State = "creating"
	StateActive   State = "active"
	StateStopped  State = "stopped"
	StateDeleting State = "deleting"
	StateError    State = "error"
)

// Pending reports whether the state is a transitional one the reconciler
// must wait out rather than act on.
func (s State) Pending() bool {
	return s == StateCreating || s == StateDeleting
}

// ResourceState is the remote view of one managed resource. The reconciler
// only reads it; the control plane owns it.
type ResourceState struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Kind    fleet.ResourceKind `json:"kind"`
	Channel string             `json:"channel,omitempty"`
	Role    fleet.Role         `json:"role,omitempty"`
	State   State              `json:"state"`
	// Target is the state an accepted transition is moving towards. It is
	// empty when no transition is in flight.
	Target  State             `json:"target,omitempty"`
	Detail  string            `json:"detail,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// CreateRequest asks the control plane to materialise a resource. Creation
// is idempotent by Name: creating an existing name returns the existing
// resource.
type CreateRequest struct {
	Name       string             `json:"name"`
	Kind       fleet.ResourceKind `json:"kind"`
	Channel    string             `json:"channel,omitempty"`
	Role       fleet.Role         `json:"role,omitempty"`
	Attributes json.RawMessage    `json:"attributes,omitempty"`
}

// Scope narrows a List call to the resources of one channel.
type Scope struct {
	Channel string
}

// Client is the resource control surface used by the reconciler. Every call
// is a single bounded remote operation; implementations do not retry unless
// explicitly configured to.
type Client interface {
	// Describe returns the current state. A resource unknown to the remote
	// system is reported with StateAbsent and a nil error.
	Describe(ctx context.Context, id string) (ResourceState, error)
	// Transition requests a move to target. Success means accepted.
	Transition(ctx context.Context, id string, target State) error
	// ListChannels returns the names of every channel that still owns
	// resources remotely.
	ListChannels(ctx context.Context) ([]string, error)
	// List returns the identifiers of the resources in scope.
	List(ctx context.Context, scope Scope) ([]string, error)
	// Delete requests deletion. A missing resource yields *NotFoundError.
	Delete(ctx context.Context, id string) error
}

// Provisioner creates and updates resources. It is separate from Client
// because only the declarative applier and the foundation create things.
type Provisioner interface {
	Create(ctx context.Context, req CreateRequest) (ResourceState, error)
	// Update replaces the attributes of an existing resource.
	Update(ctx context.Context, id string, attributes json.RawMessage) (ResourceState, error)
}

// IdentityResolver maps role and secret names to stable identifiers. A
// missing name is reported with an error wrapping fleet.ErrNotFound.
type IdentityResolver interface {
	ResolveRole(ctx context.Context, name string) (string, error)
	ResolveSecret(ctx context.Context, name string) (string, error)
}

// HealthStatus captures the availability of the control plane.
type HealthStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}
