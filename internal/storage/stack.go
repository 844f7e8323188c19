package storage

import (
	"time"

	"livefleet/internal/fleet"
)

// Resource records one applied resource spec: the identifier the control
// plane assigned, a digest of the attributes it was created with, and the
// post-creation outputs later specs bind to.
type Resource struct {
	Name    string             `json:"name"`
	Kind    fleet.ResourceKind `json:"kind"`
	Role    fleet.Role         `json:"role,omitempty"`
	ID      string             `json:"id"`
	Digest  string             `json:"digest,omitempty"`
	Outputs map[string]string  `json:"outputs,omitempty"`
}

// Stack is the durable applied state of one channel topology or of the
// shared foundation. Resources are kept in apply order.
type Stack struct {
	Name      string     `json:"name"`
	Channel   string     `json:"channel,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Resources []Resource `json:"resources"`
}

// ChannelStackName returns the storage key a channel's stack is kept under.
// Channel stacks live in their own namespace so no channel name can address
// the foundation's record.
func ChannelStackName(channel string) string {
	return "channel/" + channel
}

// Resource returns the applied resource with the given spec name.
func (s Stack) Resource(name string) (Resource, bool) {
	for _, res := range s.Resources {
		if res.Name == name {
			return res, true
		}
	}
	return Resource{}, false
}

// Upsert replaces the resource with the same name or appends it.
func (s *Stack) Upsert(res Resource) {
	for i := range s.Resources {
		if s.Resources[i].Name == res.Name {
			s.Resources[i] = res
			return
		}
	}
	s.Resources = append(s.Resources, res)
}

// Remove drops the named resource.
func (s *Stack) Remove(name string) {
	kept := s.Resources[:0]
	for _, res := range s.Resources {
		if res.Name != name {
			kept = append(kept, res)
		}
	}
	s.Resources = kept
}

// Clone returns a deep copy.
func (s Stack) Clone() Stack {
	out := s
	out.Resources = make([]Resource, len(s.Resources))
	for i, res := range s.Resources {
		if res.Outputs != nil {
			outputs := make(map[string]string, len(res.Outputs))
			for k, v := range res.Outputs {
				outputs[k] = v
			}
			res.Outputs = outputs
		}
		out.Resources[i] = res
	}
	return out
}
