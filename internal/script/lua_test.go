package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justact/internal/interpreter"
)

const paperScenarioLua = `
local s = Scenario.new("paper")
s:agent("A"):agent("B")
s:say("A", "s1", "B may read dataset X")
s:agree("g1", {"A", "B"}, {"s1"})
s:enact("B", "e1", "g1", "read dataset X")
s:policy("p1", 'violation("enacted", E) :- enactment(E, _, _, _, _, _).')
s:activate("p1")
s:check()
s:rollback(2)
return s
`

func TestParseLua(t *testing.T) {
	script, err := ParseLua(paperScenarioLua, "paper.lua", "")
	require.NoError(t, err)
	assert.Equal(t, "paper", script.Name)
	assert.Equal(t, FormatLua, script.Format)

	want := []interpreter.Command{
		{Kind: interpreter.KindDeclareAgent, Name: "A"},
		{Kind: interpreter.KindDeclareAgent, Name: "B"},
		{Kind: interpreter.KindAssert, Agent: "A", Name: "s1", Payload: "B may read dataset X"},
		{Kind: interpreter.KindAgree, Name: "g1", Parties: []string{"A", "B"}, Statements: []string{"s1"}},
		{Kind: interpreter.KindEnact, Agent: "B", Name: "e1", Agreement: "g1", Effect: "read dataset X"},
		{Kind: interpreter.KindLoadPolicy, Name: "p1", Rules: `violation("enacted", E) :- enactment(E, _, _, _, _, _).`},
		{Kind: interpreter.KindActivatePolicy, Name: "p1"},
		{Kind: interpreter.KindCheck},
		{Kind: interpreter.KindRollback, Seq: interpreter.Int64(2)},
	}
	assert.Equal(t, want, script.Commands)
}

func TestParseLuaOptionalArguments(t *testing.T) {
	script, err := ParseLua(`
local s = Scenario.new()
s:agent("A")
s:say("A", "s2", "newer", "s1")
s:agree("g1", "A", nil, 7)
s:enact("A", "e1", "g1", "act", "s2, s3")
s:now(9)
s:grant("A", "read"):revoke("A", "read")
s:retract("A", "s2")
s:check_all()
s:inspect()
return s
`, "opts.lua", "")
	require.NoError(t, err)
	require.Len(t, script.Commands, 10)
	assert.Equal(t, "s1", script.Commands[1].Retracts)
	assert.Equal(t, []string{"A"}, script.Commands[2].Parties)
	assert.Nil(t, script.Commands[2].Statements)
	assert.Equal(t, int64(7), *script.Commands[2].At)
	assert.Equal(t, []string{"s2", "s3"}, script.Commands[3].Statements)
	assert.Equal(t, int64(9), *script.Commands[4].At)
	assert.Equal(t, interpreter.KindRevoke, script.Commands[6].Kind)
	assert.Equal(t, interpreter.KindCheckAll, script.Commands[8].Kind)
	assert.Equal(t, interpreter.KindInspect, script.Commands[9].Kind)
}

func TestParseLuaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", "local s = ", "load lua"},
		{"no return", `Scenario.new("x")`, "must return Scenario"},
		{"wrong return", `return 42`, "must return Scenario"},
		{"bad argument", `local s = Scenario.new(); s:agent(); return s`, "run lua"},
		{"bad list", `local s = Scenario.new(); s:agree("g1", {1, {}}); return s`, "run lua"},
		{"missing policy file", `local s = Scenario.new(); s:policy_file("p1", "nope.mg"); return s`, "policy p1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLua(tt.src, "bad.lua", t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			var syntaxErr *SyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
		})
	}
}

func TestLoadFileLua(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.mg"), []byte("violation(\"x\", \"y\")."), 0644))
	path := filepath.Join(dir, "unnamed.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
local s = Scenario.new()
s:policy_file("p1", "p.mg")
return s
`), 0644))

	script, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "unnamed", script.Name)
	require.Len(t, script.Commands, 1)
	assert.Equal(t, `violation("x", "y").`, script.Commands[0].Rules)
	assert.Len(t, script.Sources, 2)
}
