package topology

import (
	"bytes"
	"encoding/json"
	"fmt"

	"livefleet/internal/fleet"
)

// PlaybackURL is the CDN address of one packaging endpoint.
type PlaybackURL struct {
	Endpoint      string               `json:"endpoint"`
	Format        fleet.DeliveryFormat `json:"format"`
	URL           string               `json:"url"`
	LowLatencyURL string               `json:"lowLatencyUrl,omitempty"`
}

// Topology is the compiled, ordered resource graph of one channel.
type Topology struct {
	Channel    string                `json:"channel"`
	Redundancy fleet.RedundancyClass `json:"redundancy"`
	AutoStart  fleet.AutoStart       `json:"autoStart"`
	Specs      []ResourceSpec        `json:"specs"`
	Playback   []PlaybackURL         `json:"playback"`
}

// Spec returns the spec with the given name.
func (t Topology) Spec(name string) (ResourceSpec, bool) {
	for _, spec := range t.Specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return ResourceSpec{}, false
}

// Names lists spec names in apply order.
func (t Topology) Names() []string {
	names := make([]string, len(t.Specs))
	for i, spec := range t.Specs {
		names[i] = spec.Name
	}
	return names
}

// OfKind returns the specs of one kind in apply order.
func (t Topology) OfKind(kind fleet.ResourceKind) []ResourceSpec {
	var out []ResourceSpec
	for _, spec := range t.Specs {
		if spec.Kind == kind {
			out = append(out, spec)
		}
	}
	return out
}

// CheckOrder verifies that every dependency and handle points at a spec
// that appears earlier in the sequence, and that names are unique.
func (t Topology) CheckOrder() error {
	seen := make(map[string]bool, len(t.Specs))
	for _, spec := range t.Specs {
		if seen[spec.Name] {
			return fmt.Errorf("spec %s emitted twice", spec.Name)
		}
		for _, dep := range spec.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("spec %s depends on %s which is not emitted before it", spec.Name, dep)
			}
		}
		for _, ref := range spec.Refs() {
			if !seen[ref.Spec] {
				return fmt.Errorf("spec %s references %s before it is emitted", spec.Name, ref)
			}
		}
		seen[spec.Name] = true
	}
	return nil
}

// JSON renders the topology as indented JSON. Equal topologies render to
// identical bytes.
func (t Topology) JSON() ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
