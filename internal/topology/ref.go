package topology

import (
	"encoding/json"
	"fmt"
)

// Output names a post-creation attribute a resource exposes once the
// control plane has materialised it.
type Output string

const (
	// OutputID is exposed by every resource.
	OutputID Output = "id"
	// OutputSourceIngestIP is the public address an ingest flow listens on.
	OutputSourceIngestIP Output = "sourceIngestIp"
	// OutputIngestEndpoint1 and OutputIngestEndpoint2 are the packaging
	// channel's redundant ingest URLs.
	OutputIngestEndpoint1 Output = "ingestEndpoint1"
	OutputIngestEndpoint2 Output = "ingestEndpoint2"
	// OutputOriginURL is the origin URL of a packaging endpoint.
	OutputOriginURL Output = "originUrl"
)

// Ref is a typed handle on an output of another spec in the same topology.
// It is resolved by the provisioning applier after the referenced spec has
// been created; the compiler never derives one identifier from another.
type Ref struct {
	Spec   string `json:"spec"`
	Output Output `json:"output"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s.%s", r.Spec, r.Output)
}

// MarshalJSON encodes the handle as {"$ref": {...}} so that Bind can find it
// in the attribute document.
func (r Ref) MarshalJSON() ([]byte, error) {
	type plain Ref
	return json.Marshal(struct {
		Ref plain `json:"$ref"`
	}{Ref: plain(r)})
}

// UnmarshalJSON accepts the envelope written by MarshalJSON.
func (r *Ref) UnmarshalJSON(data []byte) error {
	type plain Ref
	var env struct {
		Ref *plain `json:"$ref"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Ref == nil {
		return fmt.Errorf("reference envelope missing $ref")
	}
	*r = Ref(*env.Ref)
	return nil
}

// IDOf is shorthand for the identifier output of a spec.
func IDOf(spec string) Ref {
	return Ref{Spec: spec, Output: OutputID}
}
