package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
)

// evaluateAssertions runs every assertion against the post-run store
// and records violations on the result.
func evaluateAssertions(ctx context.Context, store docstore.Store, resolver *deploy.Resolver, sc *Scenario, r *Result) {
	for i, a := range sc.Assertions {
		switch a.Type {
		case AssertState:
			assertState(ctx, store, resolver, a, i+1, r)
		case AssertDoc:
			assertDoc(ctx, store, a, i+1, r)
		case AssertCount:
			assertCount(ctx, store, a, i+1, r)
		}
	}
}

func assertState(ctx context.Context, store docstore.Store, resolver *deploy.Resolver, a Assertion, n int, r *Result) {
	res, err := resolver.Resolve(ctx, a.DeploymentID)
	if err != nil {
		r.failf("assertion %d (state): resolving %s: %v", n, a.DeploymentID, err)
		return
	}

	type location struct {
		name string
		ref  docstore.Ref
	}
	var locations []location
	loc := a.Location
	if loc == "" {
		loc = "both"
	}
	if loc == "legacy" || loc == "both" {
		locations = append(locations, location{"legacy", res.LegacyStateRef(a.UserID)})
	}
	if loc == "native" || loc == "both" {
		locations = append(locations, location{"native", res.NativeStateRef(a.UserID)})
	}

	for _, l := range locations {
		doc, err := store.Get(ctx, l.ref)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				r.failf("assertion %d (state): no %s state document at %s", n, l.name, l.ref)
			} else {
				r.failf("assertion %d (state): reading %s: %v", n, l.ref, err)
			}
			continue
		}
		if !subsetMatch(a.Expect, doc["state"]) {
			r.failf("assertion %d (state): %s state %s does not contain %s",
				n, l.name, compactJSON(doc["state"]), compactJSON(a.Expect))
		}
	}
}

func assertDoc(ctx context.Context, store docstore.Store, a Assertion, n int, r *Result) {
	doc, err := store.Get(ctx, docstore.NewRef(a.Collection, a.Key))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			r.failf("assertion %d (doc): no document at %s/%s", n, a.Collection, a.Key)
		} else {
			r.failf("assertion %d (doc): reading %s/%s: %v", n, a.Collection, a.Key, err)
		}
		return
	}
	if !subsetMatch(a.Expect, map[string]any(doc)) {
		r.failf("assertion %d (doc): %s/%s %s does not contain %s",
			n, a.Collection, a.Key, compactJSON(map[string]any(doc)), compactJSON(a.Expect))
	}
}

func assertCount(ctx context.Context, store docstore.Store, a Assertion, n int, r *Result) {
	entries, err := store.List(ctx, a.Collection, docstore.ListOptions{})
	if err != nil {
		r.failf("assertion %d (count): listing %s: %v", n, a.Collection, err)
		return
	}
	if len(entries) != *a.Count {
		r.failf("assertion %d (count): collection %s has %d documents, want %d",
			n, a.Collection, len(entries), *a.Count)
	}
}

// subsetMatch reports whether actual contains expected: for maps every
// expected key must be present and match recursively, for lists length
// and order must match, and scalars compare with numeric types
// unified. Extra keys in actual maps are ignored.
func subsetMatch(expected, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, present := act[k]
			if !present || !subsetMatch(v, av) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !subsetMatch(exp[i], act[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(expected, actual)
	}
}

// scalarEqual compares leaf values. Numbers are compared by value so a
// YAML int matches a stored json.Number or a float from normalization.
func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := toFloat(a); ok {
		nb, bok := toFloat(b)
		return bok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		return 0, false
	default:
		return 0, false
	}
}

// normalizeMap reduces a marshalable map to plain JSON types with
// json.Number scalars, the same shape documents come back from the
// store in.
func normalizeMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := normalizeAny(v)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", out)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func normalizeAny(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<unencodable>"
	}
	return string(b)
}
