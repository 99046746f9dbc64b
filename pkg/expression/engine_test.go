package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalBool(t *testing.T) {
	engine := NewEngine()
	env := map[string]interface{}{"amount": 250, "state": "open"}

	tests := []struct {
		condition string
		want      bool
		wantErr   bool
	}{
		{"", true, false},
		{"   ", true, false},
		{"amount > 100", true, false},
		{`state == "closed"`, false, false},
		{"amount", false, true}, // not a boolean
		{"1 +", false, true},    // syntax error
	}
	for _, tt := range tests {
		got, err := engine.EvalBool(tt.condition, env)
		if tt.wantErr {
			assert.Error(t, err, tt.condition)
			continue
		}
		require.NoError(t, err, tt.condition)
		assert.Equal(t, tt.want, got, tt.condition)
	}
}

func TestEvalBoolAllowsUndefinedVariables(t *testing.T) {
	engine := NewEngine()
	got, err := engine.EvalBool("missing == nil", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRender(t *testing.T) {
	engine := NewEngine()
	env := map[string]interface{}{"name": "Alice", "count": 3}

	rendered, err := engine.Render("hello {{ name }}, {{ count }} items", env)
	require.NoError(t, err)
	assert.Equal(t, "hello Alice, 3 items", rendered)

	// Plain strings pass through untouched.
	rendered, err = engine.Render("1800", env)
	require.NoError(t, err)
	assert.Equal(t, "1800", rendered)

	_, err = engine.Render("{{ 1 + }}", env)
	assert.Error(t, err)
}

func TestRenderBuiltinFunctions(t *testing.T) {
	engine := NewEngine()
	rendered, err := engine.Render(`{{ UPPER("abc") }}`, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "ABC", rendered)
}

func TestRegisterFunction(t *testing.T) {
	engine := NewEngine()
	engine.RegisterFunction("DOUBLE", func(params ...interface{}) (interface{}, error) {
		return params[0].(int) * 2, nil
	})
	result, err := engine.Eval("DOUBLE(21)", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestIsTemplateString(t *testing.T) {
	assert.True(t, IsTemplateString("{{ x }}"))
	assert.True(t, IsTemplateString("prefix {{x}} suffix"))
	assert.False(t, IsTemplateString("1800"))
	assert.False(t, IsTemplateString("{ x }"))
}

func TestIsAlwaysFalse(t *testing.T) {
	engine := NewEngine()

	alwaysFalse := []string{
		"false",
		"False",
		"0",
		" false ",
		`"a" == "b"`,
		"1 == 2",
		"!true",
	}
	for _, condition := range alwaysFalse {
		assert.True(t, engine.IsAlwaysFalse(condition), condition)
	}

	notProvable := []string{
		"",
		"true",
		"amount > 100",
		`status == "open"`,
		"1 == 1",
		"not valid ((",
	}
	for _, condition := range notProvable {
		assert.False(t, engine.IsAlwaysFalse(condition), condition)
	}
}
