package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario is one YAML test case: seed documents, a sequence of action
// steps with expectations, and final assertions over the store.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Limits      *Limits     `yaml:"limits,omitempty"`
	Seed        Seed        `yaml:"seed,omitempty"`
	Steps       []Step      `yaml:"steps"`
	Assertions  []Assertion `yaml:"assertions,omitempty"`
}

// Limits configures a real token-bucket rate limiter for the run.
// Absent limits mean unlimited execution.
type Limits struct {
	PerSecond int64 `yaml:"perSecond"`
	Burst     int64 `yaml:"burst"`
}

// Seed declares the documents written before the first step runs.
// Tools and deployments are raw documents in their wire shape; the map
// keys must use the same JSON field names the engine reads.
type Seed struct {
	Tools       []map[string]any `yaml:"tools,omitempty"`
	Deployments []map[string]any `yaml:"deployments,omitempty"`
	Placements  []Placement      `yaml:"placements,omitempty"`
	Members     []Member         `yaml:"members,omitempty"`
	State       []StateSeed      `yaml:"state,omitempty"`
	Docs        []DocSeed        `yaml:"docs,omitempty"`
}

// Placement seeds a surface-nested placement record, addressable by the
// composite id "<surface>:<surfaceId>_<placementId>".
type Placement struct {
	Surface     string         `yaml:"surface"`
	SurfaceID   string         `yaml:"surfaceId"`
	PlacementID string         `yaml:"placementId"`
	Record      map[string]any `yaml:"record"`
}

// Member seeds one space membership. Status defaults to active.
type Member struct {
	SpaceID string `yaml:"spaceId"`
	UserID  string `yaml:"userId"`
	Role    string `yaml:"role,omitempty"`
	Status  string `yaml:"status,omitempty"`
}

// StateSeed pre-populates execution state for one (deployment, user)
// pair. Location selects which of the two storage locations receives
// the document; it defaults to both.
type StateSeed struct {
	DeploymentID string         `yaml:"deploymentId"`
	UserID       string         `yaml:"userId"`
	Location     string         `yaml:"location,omitempty"`
	State        map[string]any `yaml:"state"`
}

// DocSeed writes an arbitrary document, for collections the structured
// seed sections do not cover.
type DocSeed struct {
	Collection string         `yaml:"collection"`
	Key        string         `yaml:"key"`
	Doc        map[string]any `yaml:"doc"`
}

// Step is one request through the engine.
type Step struct {
	Action       string         `yaml:"action"`
	DeploymentID string         `yaml:"deploymentId"`
	UserID       string         `yaml:"userId"`
	ElementID    string         `yaml:"elementId,omitempty"`
	Data         map[string]any `yaml:"data,omitempty"`
	Expect       *Expect        `yaml:"expect,omitempty"`
}

// Expect constrains a step's outcome. Data and State are subset
// matches: every listed key must be present with the given value,
// extra keys in the response are ignored. Cascaded, when present, must
// match exactly and in order.
type Expect struct {
	Success  *bool          `yaml:"success,omitempty"`
	Error    string         `yaml:"error,omitempty"`
	Kind     string         `yaml:"kind,omitempty"`
	Code     string         `yaml:"code,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`
	State    map[string]any `yaml:"state,omitempty"`
	Cascaded []string       `yaml:"cascaded,omitempty"`
}

// Assertion types.
const (
	// AssertState checks a persisted state document. Expect is a subset
	// match against the document's state field; location selects the
	// legacy location, the native location, or both (the default).
	AssertState = "state"

	// AssertDoc checks an arbitrary document by collection and key.
	AssertDoc = "doc"

	// AssertCount checks the number of documents in a collection.
	AssertCount = "count"
)

// Assertion is one check over the store after the last step.
type Assertion struct {
	Type         string         `yaml:"type"`
	DeploymentID string         `yaml:"deploymentId,omitempty"`
	UserID       string         `yaml:"userId,omitempty"`
	Location     string         `yaml:"location,omitempty"`
	Collection   string         `yaml:"collection,omitempty"`
	Key          string         `yaml:"key,omitempty"`
	Expect       map[string]any `yaml:"expect,omitempty"`
	Count        *int           `yaml:"count,omitempty"`
}

// Load parses and validates one scenario. Unknown YAML fields are
// rejected so a typo in a scenario file fails loudly instead of
// silently weakening the test.
func Load(data []byte) (*Scenario, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var sc Scenario
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile loads one scenario from a YAML file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	sc, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return sc, nil
}

// LoadDir loads every .yaml scenario in a directory, sorted by file
// name so test order is stable.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		sc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// namePattern keeps scenario names usable as golden fixture file names.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if !namePattern.MatchString(sc.Name) {
		return fmt.Errorf("scenario name %q must be lowercase alphanumeric with - or _", sc.Name)
	}
	if sc.Description == "" {
		return fmt.Errorf("scenario %s: description is required", sc.Name)
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %s: at least one step is required", sc.Name)
	}
	if sc.Limits != nil && (sc.Limits.PerSecond <= 0 || sc.Limits.Burst <= 0) {
		return fmt.Errorf("scenario %s: limits require positive perSecond and burst", sc.Name)
	}

	for i, p := range sc.Seed.Placements {
		if p.Surface != "space" && p.Surface != "profile" {
			return fmt.Errorf("scenario %s: placement %d: surface must be space or profile, got %q", sc.Name, i, p.Surface)
		}
		if p.SurfaceID == "" || p.PlacementID == "" {
			return fmt.Errorf("scenario %s: placement %d: surfaceId and placementId are required", sc.Name, i)
		}
	}
	for i, m := range sc.Seed.Members {
		if m.SpaceID == "" || m.UserID == "" {
			return fmt.Errorf("scenario %s: member %d: spaceId and userId are required", sc.Name, i)
		}
	}
	for i, s := range sc.Seed.State {
		if s.DeploymentID == "" || s.UserID == "" {
			return fmt.Errorf("scenario %s: state seed %d: deploymentId and userId are required", sc.Name, i)
		}
		if err := validLocation(s.Location); err != nil {
			return fmt.Errorf("scenario %s: state seed %d: %w", sc.Name, i, err)
		}
	}
	for i, d := range sc.Seed.Docs {
		if d.Collection == "" || d.Key == "" {
			return fmt.Errorf("scenario %s: doc seed %d: collection and key are required", sc.Name, i)
		}
	}

	for i, st := range sc.Steps {
		if st.Action == "" || st.DeploymentID == "" || st.UserID == "" {
			return fmt.Errorf("scenario %s: step %d: action, deploymentId and userId are required", sc.Name, i)
		}
	}

	for i, a := range sc.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("scenario %s: assertion %d: %w", sc.Name, i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertState:
		if a.DeploymentID == "" || a.UserID == "" {
			return fmt.Errorf("state assertion requires deploymentId and userId")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("state assertion requires expect")
		}
		return validLocation(a.Location)
	case AssertDoc:
		if a.Collection == "" || a.Key == "" {
			return fmt.Errorf("doc assertion requires collection and key")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("doc assertion requires expect")
		}
		return nil
	case AssertCount:
		if a.Collection == "" {
			return fmt.Errorf("count assertion requires collection")
		}
		if a.Count == nil {
			return fmt.Errorf("count assertion requires count")
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func validLocation(loc string) error {
	switch loc {
	case "", "legacy", "native", "both":
		return nil
	default:
		return fmt.Errorf("location must be legacy, native or both, got %q", loc)
	}
}
