package state

import (
	"encoding/json"
	"fmt"
)

// Map is execution state keyed by element instance id.
type Map map[string]Value

// Merge returns a new map in which every key carried by fragment replaces
// the same key in m and every other key of m survives. Neither input is
// mutated.
func (m Map) Merge(fragment Map) Map {
	out := make(Map, len(m)+len(fragment))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range fragment {
		out[k] = v
	}
	return out
}

// Doc is the persisted shape of one (deployment, user) state document.
// The identical body is written to the legacy flat location and the
// deployment-native location on every commit.
type Doc struct {
	DeploymentID string `json:"deploymentId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	State        Map    `json:"state"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// MarshalJSON encodes each value as an object tagged with its "kind"
// discriminator. Keys marshal in sorted order.
func (m Map) MarshalJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		b, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("state key %q: %w", k, err)
		}
		raw[k] = b
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes each value by its "kind" discriminator.
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Map, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("state key %q: %w", k, err)
		}
		out[k] = val
	}
	*m = out
	return nil
}

func marshalValue(v Value) ([]byte, error) {
	if g, ok := v.(Generic); ok {
		// Generic keeps its original fields, "kind" included.
		return json.Marshal(map[string]any(g))
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Every non-Generic variant encodes as an object; splice the
	// discriminator in as the first member. Kind strings are plain ASCII
	// identifiers and need no escaping.
	tag := []byte(`{"kind":"` + v.Kind() + `"`)
	if len(body) == 2 {
		return append(tag, '}'), nil
	}
	out := make([]byte, 0, len(tag)+len(body))
	out = append(out, tag...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

func unmarshalValue(data []byte) (Value, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Kind {
	case KindSubmission:
		var v Submission
		err := json.Unmarshal(data, &v)
		return v, err
	case KindPoll:
		var v Poll
		err := json.Unmarshal(data, &v)
		return v, err
	case KindCounter:
		var v Counter
		err := json.Unmarshal(data, &v)
		return v, err
	case KindToggle:
		var v Toggle
		err := json.Unmarshal(data, &v)
		return v, err
	case KindFields:
		var v Fields
		err := json.Unmarshal(data, &v)
		return v, err
	case KindSelection:
		var v Selection
		err := json.Unmarshal(data, &v)
		return v, err
	case KindRSVP:
		var v RSVP
		err := json.Unmarshal(data, &v)
		return v, err
	case KindTimer:
		var v Timer
		err := json.Unmarshal(data, &v)
		return v, err
	case KindSearch:
		var v Search
		err := json.Unmarshal(data, &v)
		return v, err
	case KindLeaderboard:
		var v Leaderboard
		err := json.Unmarshal(data, &v)
		return v, err
	case KindMarker:
		var v Marker
		err := json.Unmarshal(data, &v)
		return v, err
	case KindNotices:
		var v Notices
		err := json.Unmarshal(data, &v)
		return v, err
	case KindAnnouncement:
		var v Announcement
		err := json.Unmarshal(data, &v)
		return v, err
	case KindCustom:
		var v Custom
		err := json.Unmarshal(data, &v)
		return v, err
	case KindUnknown:
		var v Unknown
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		// Unrecognized or absent kind: preserve as Generic so foreign
		// documents survive a round trip.
		var g Generic
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, err
		}
		return g, nil
	}
}
