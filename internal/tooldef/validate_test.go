package tooldef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTool = `
id: t1
name: Event Kit
elements:
  - id: poll1
    type: poll
    config:
      options: [red, blue]
  - id: counter1
    type: counter
    config:
      max: 5
connections:
  - from: {elementId: poll1, action: vote}
    to: {elementId: counter1, action: increment}
`

func codes(errs ValidationErrors) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_ValidDefinition(t *testing.T) {
	assert.Nil(t, Validate([]byte(validTool)))
}

func TestValidate_AcceptsJSON(t *testing.T) {
	raw := `{"id":"t1","name":"Kit","elements":[{"id":"e1","type":"toggle"}]}`
	assert.Nil(t, Validate([]byte(raw)))
}

func TestValidate_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "id: t1\nelements: [{id: e1, type: poll}]"},
		{"empty id", "id: \"\"\nname: x\nelements: [{id: e1, type: poll}]"},
		{"no elements", "id: t1\nname: x\nelements: []"},
		{"unknown field", "id: t1\nname: x\nbogus: 1\nelements: [{id: e1, type: poll}]"},
		{"element missing type", "id: t1\nname: x\nelements: [{id: e1}]"},
		{"negative useCount", "id: t1\nname: x\nuseCount: -1\nelements: [{id: e1, type: poll}]"},
		{"not a document", "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate([]byte(tt.yaml))
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), ErrSchema)
		})
	}
}

func TestValidate_DuplicateElementID(t *testing.T) {
	raw := `
id: t1
name: x
elements:
  - {id: e1, type: poll}
  - {id: e1, type: counter}
`
	errs := Validate([]byte(raw))
	assert.Contains(t, codes(errs), ErrDuplicateElement)
}

func TestValidate_AliasShadowsOtherElement(t *testing.T) {
	raw := `
id: t1
name: x
elements:
  - {id: e1, type: poll}
  - {id: e2, type: counter, aliases: [e1]}
`
	errs := Validate([]byte(raw))
	assert.Contains(t, codes(errs), ErrAliasCollision)
}

func TestValidate_UnnamedDeclaredAction(t *testing.T) {
	raw := `
id: t1
name: x
elements:
  - {id: e1, type: widget, actions: [{label: Do it}]}
`
	errs := Validate([]byte(raw))
	assert.Contains(t, codes(errs), ErrActionUnnamed)
}

func TestValidate_ConnectionEndpoints(t *testing.T) {
	tests := []struct {
		name string
		conn string
		want string
	}{
		{
			"unknown target",
			`[{from: {elementId: e1, action: vote}, to: {elementId: ghost}}]`,
			ErrEndpointUnknown,
		},
		{
			"unknown source",
			`[{from: {elementId: ghost, action: vote}, to: {elementId: e1}}]`,
			ErrEndpointUnknown,
		},
		{
			"source without action",
			`[{from: {elementId: e1}, to: {elementId: e1}}]`,
			ErrEndpointNoAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "id: t1\nname: x\nelements: [{id: e1, type: poll}]\nconnections: " + tt.conn
			errs := Validate([]byte(raw))
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tt.want)
		})
	}
}

func TestValidate_TypeLevelSourceAllowed(t *testing.T) {
	raw := `
id: t1
name: x
elements:
  - {id: m1, type: map}
  - {id: c1, type: counter}
connections:
  - from: {elementId: map, action: select_marker}
    to: {elementId: c1}
`
	assert.Nil(t, Validate([]byte(raw)))
}

func TestParse_DecodesElements(t *testing.T) {
	tl, err := Parse([]byte(validTool))
	require.NoError(t, err)
	require.Len(t, tl.Elements, 2)
	assert.Equal(t, "poll1", tl.Elements[0].ID)
	assert.Equal(t, int64(5), tl.Elements[1].ConfigInt("max", 0))
	require.Len(t, tl.Connections, 1)
	assert.Equal(t, "vote", tl.Connections[0].From.Action)
}

func TestLoad_CollectsAllViolations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool.yaml")
	raw := `
id: t1
name: x
elements:
  - {id: e1, type: poll}
  - {id: e1, type: counter}
connections:
  - from: {elementId: e1}
    to: {elementId: ghost}
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.GreaterOrEqual(t, len(verrs), 3)
}

func TestLoad_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validTool), 0o644))

	tl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "t1", tl.ID)
}
