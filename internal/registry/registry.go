// Package registry maps object type tags to their payload constructors.
// Every payload kind statically declares its tag; the map is populated at
// init time so serialization never relies on reflection.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"aviary/internal/domain"
)

// Object is a serializable domain payload. Dict returns the wire form;
// round-tripping through the registered constructor must be lossless.
type Object interface {
	ObjectType() domain.ObjectType
	Dict() map[string]any
}

// Constructor rebuilds an Object from its wire form.
type Constructor func(dict map[string]any) (Object, error)

var constructors = map[domain.ObjectType]Constructor{}

func init() {
	constructors[domain.ObjectTypeAgent] = func(d map[string]any) (Object, error) { return Agent{Fields: d}, nil }
	constructors[domain.ObjectTypeAgentList] = func(d map[string]any) (Object, error) { return AgentList{Fields: d}, nil }
	constructors[domain.ObjectTypeCache] = func(d map[string]any) (Object, error) { return Cache{Fields: d}, nil }
	constructors[domain.ObjectTypeNotebook] = func(d map[string]any) (Object, error) { return Notebook{Fields: d}, nil }
	constructors[domain.ObjectTypeQuestion] = func(d map[string]any) (Object, error) { return Question{Fields: d}, nil }
	constructors[domain.ObjectTypeResults] = func(d map[string]any) (Object, error) { return Results{Fields: d}, nil }
	constructors[domain.ObjectTypeScenario] = newScenario
	constructors[domain.ObjectTypeScenarioList] = func(d map[string]any) (Object, error) { return ScenarioList{Fields: d}, nil }
	constructors[domain.ObjectTypeSurvey] = func(d map[string]any) (Object, error) { return Survey{Fields: d}, nil }
}

// New rebuilds an object of the given type from its wire form.
func New(t domain.ObjectType, dict map[string]any) (Object, error) {
	ctor, ok := constructors[t]
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", t)
	}
	return ctor(dict)
}

// Known reports whether t is a registered object type.
func Known(t domain.ObjectType) bool {
	_, ok := constructors[t]
	return ok
}

// Types returns the registered object types in stable order.
func Types() []domain.ObjectType {
	out := make([]domain.ObjectType, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateTypes checks each value against the registry and names the
// offending values if any are unknown.
func ValidateTypes(values []domain.ObjectType) error {
	var invalid []string
	for _, t := range values {
		if !Known(t) {
			invalid = append(invalid, string(t))
		}
	}
	if len(invalid) > 0 {
		valid := make([]string, 0, len(constructors))
		for _, t := range Types() {
			valid = append(valid, string(t))
		}
		return fmt.Errorf("invalid object type(s): %s (valid: %s)",
			strings.Join(invalid, ", "), strings.Join(valid, ", "))
	}
	return nil
}

// Hash returns the content digest of an object's wire form, used for
// dedup lookup by hash. Keys are serialized in sorted order so the digest
// is stable across runs.
func Hash(obj Object) string {
	data, _ := json.Marshal(canonical(obj.Dict()))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonical rewrites a dict so json.Marshal emits it deterministically.
// encoding/json already sorts map keys; nested slices are walked for
// embedded maps.
func canonical(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonical(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonical(item)
		}
		return out
	default:
		return v
	}
}
