package tooldef

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/quadpoint/toolengine/internal/tool"
)

//go:embed schema.cue
var schemaSource []byte

// Validation error codes (T100-T199)
const (
	ErrSchema           = "T100" // schema violation reported by CUE
	ErrDuplicateElement = "T101" // element id used twice
	ErrAliasCollision   = "T102" // alias shadows another element
	ErrActionUnnamed    = "T103" // declared action has neither id nor name
	ErrEndpointUnknown  = "T104" // connection endpoint names no element
	ErrEndpointNoAction = "T105" // connection source has no action
)

// ValidationError is one violation found in a tool definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors aggregates every violation found in one document.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Validate checks a YAML or JSON tool definition against the embedded CUE
// schema and the cross reference rules. It returns every violation found;
// nil means the definition is valid.
func Validate(data []byte) ValidationErrors {
	t, raw, err := decode(data)
	if err != nil {
		return ValidationErrors{{Field: "tool", Message: err.Error(), Code: ErrSchema}}
	}

	errs := validateSchema(raw)
	errs = append(errs, validateReferences(t)...)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateSchema(raw map[string]any) ValidationErrors {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return ValidationErrors{{Field: "schema", Message: err.Error(), Code: ErrSchema}}
	}

	unified := schema.LookupPath(cue.ParsePath("#Tool")).Unify(ctx.Encode(raw))
	if err := unified.Err(); err != nil {
		return cueViolations(err)
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cueViolations(err)
	}
	return nil
}

// cueViolations flattens a CUE error list into ValidationErrors with
// source positions where CUE provides them.
func cueViolations(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		v := ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: e.Error(),
			Code:    ErrSchema,
		}
		if positions := cueerrors.Positions(e); len(positions) > 0 && positions[0].IsValid() {
			v.Line = positions[0].Line()
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Field: "tool", Message: err.Error(), Code: ErrSchema})
	}
	return out
}

// validateReferences runs the checks the schema cannot express: identifier
// uniqueness and connection endpoints grounding in declared elements.
func validateReferences(t *tool.Tool) ValidationErrors {
	var errs ValidationErrors

	ids := make(map[string]bool, len(t.Elements))
	types := make(map[string]bool, len(t.Elements))
	for i, el := range t.Elements {
		if ids[el.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("elements[%d].id", i),
				Message: fmt.Sprintf("duplicate element id %q", el.ID),
				Code:    ErrDuplicateElement,
			})
		}
		ids[el.ID] = true
		types[el.Type] = true

		for j, a := range el.Actions {
			if a.ID == "" && a.Name == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("elements[%d].actions[%d]", i, j),
					Message: "declared action needs an id or a name",
					Code:    ErrActionUnnamed,
				})
			}
		}
	}

	for i, el := range t.Elements {
		for _, alias := range el.Aliases {
			if alias == el.ID {
				continue
			}
			if other, ok := t.FindElement(alias); ok && other.ID != el.ID {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("elements[%d].aliases", i),
					Message: fmt.Sprintf("alias %q shadows element %q", alias, other.ID),
					Code:    ErrAliasCollision,
				})
			}
		}
	}

	for i, c := range t.Connections {
		if c.From.Action == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("connections[%d].from.action", i),
				Message: "connection source needs an action",
				Code:    ErrEndpointNoAction,
			})
		}
		if src := c.From.ElementID; src != "" {
			if _, ok := t.FindElement(src); !ok && !types[src] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("connections[%d].from.elementId", i),
					Message: fmt.Sprintf("%q names no element or element type", src),
					Code:    ErrEndpointUnknown,
				})
			}
		}
		if _, ok := t.FindElement(c.To.ElementID); !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("connections[%d].to.elementId", i),
				Message: fmt.Sprintf("%q names no element", c.To.ElementID),
				Code:    ErrEndpointUnknown,
			})
		}
	}

	return errs
}
