package topology

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Resolver supplies the concrete value of a handle once the referenced spec
// has been applied.
type Resolver interface {
	Resolve(ref Ref) (string, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ref Ref) (string, bool)

func (f ResolverFunc) Resolve(ref Ref) (string, bool) { return f(ref) }

// UnresolvedError reports a handle whose target has not been applied or does
// not expose the requested output.
type UnresolvedError struct {
	Spec string
	Ref  Ref
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("spec %s: unresolved reference %s", e.Spec, e.Ref)
}

// Bind renders the spec's attributes with every handle replaced by the value
// the resolver returns for it.
func Bind(spec ResourceSpec, resolver Resolver) (json.RawMessage, error) {
	raw, err := json.Marshal(spec.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode %s attributes: %w", spec.Name, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s attributes: %w", spec.Name, err)
	}
	bound, err := bindValue(spec.Name, doc, resolver)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(bound)
	if err != nil {
		return nil, fmt.Errorf("encode bound %s attributes: %w", spec.Name, err)
	}
	return out, nil
}

func bindValue(specName string, value any, resolver Resolver) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if ref, ok := asRef(v); ok {
			resolved, found := resolver.Resolve(ref)
			if !found {
				return nil, &UnresolvedError{Spec: specName, Ref: ref}
			}
			return resolved, nil
		}
		for key, child := range v {
			bound, err := bindValue(specName, child, resolver)
			if err != nil {
				return nil, err
			}
			v[key] = bound
		}
		return v, nil
	case []any:
		for i, child := range v {
			bound, err := bindValue(specName, child, resolver)
			if err != nil {
				return nil, err
			}
			v[i] = bound
		}
		return v, nil
	default:
		return v, nil
	}
}

func asRef(m map[string]any) (Ref, bool) {
	if len(m) != 1 {
		return Ref{}, false
	}
	inner, ok := m["$ref"].(map[string]any)
	if !ok {
		return Ref{}, false
	}
	spec, _ := inner["spec"].(string)
	output, _ := inner["output"].(string)
	if spec == "" || output == "" {
		return Ref{}, false
	}
	return Ref{Spec: spec, Output: Output(output)}, true
}

// Digest fingerprints bound attributes so an applier can tell whether a
// previously applied spec changed.
func Digest(bound json.RawMessage) string {
	sum := sha256.Sum256(bound)
	return hex.EncodeToString(sum[:])
}
