package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justact/internal/interpreter"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want interpreter.Command
	}{
		{"agent A", interpreter.Command{Kind: interpreter.KindDeclareAgent, Name: "A"}},
		{"grant B read", interpreter.Command{Kind: interpreter.KindGrant, Agent: "B", Capability: "read"}},
		{"revoke B read", interpreter.Command{Kind: interpreter.KindRevoke, Agent: "B", Capability: "read"}},
		{`say A s1 "B may read dataset X"`, interpreter.Command{Kind: interpreter.KindAssert, Agent: "A", Name: "s1", Payload: "B may read dataset X"}},
		{`say A s2 "now \"quoted\"" retracts s1`, interpreter.Command{Kind: interpreter.KindAssert, Agent: "A", Name: "s2", Payload: `now "quoted"`, Retracts: "s1"}},
		{"say A s3 short", interpreter.Command{Kind: interpreter.KindAssert, Agent: "A", Name: "s3", Payload: "short"}},
		{"retract A s1", interpreter.Command{Kind: interpreter.KindRetract, Agent: "A", Name: "s1"}},
		{"agree g1 parties A,B cites s1", interpreter.Command{Kind: interpreter.KindAgree, Name: "g1", Parties: []string{"A", "B"}, Statements: []string{"s1"}}},
		{"agree g2 parties A at 5", interpreter.Command{Kind: interpreter.KindAgree, Name: "g2", Parties: []string{"A"}, At: interpreter.Int64(5)}},
		{`enact B e1 g1 "read dataset X"`, interpreter.Command{Kind: interpreter.KindEnact, Agent: "B", Name: "e1", Agreement: "g1", Effect: "read dataset X"}},
		{`enact B e2 g1 "write" because s1,s2`, interpreter.Command{Kind: interpreter.KindEnact, Agent: "B", Name: "e2", Agreement: "g1", Effect: "write", Statements: []string{"s1", "s2"}}},
		{`policy p1 "violation(\"x\", E) :- enactment(E, _, _, _, _, _)."`, interpreter.Command{Kind: interpreter.KindLoadPolicy, Name: "p1", Rules: `violation("x", E) :- enactment(E, _, _, _, _, _).`}},
		{"activate p1", interpreter.Command{Kind: interpreter.KindActivatePolicy, Name: "p1"}},
		{"now 5", interpreter.Command{Kind: interpreter.KindAdvanceTime, At: interpreter.Int64(5)}},
		{"check", interpreter.Command{Kind: interpreter.KindCheck}},
		{"check-all", interpreter.Command{Kind: interpreter.KindCheckAll}},
		{"rollback 2   # back to s1", interpreter.Command{Kind: interpreter.KindRollback, Seq: interpreter.Int64(2)}},
		{"  inspect", interpreter.Command{Kind: interpreter.KindInspect}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok, err := ParseLine(tt.line, "")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)

			// Command.String renders the line syntax back.
			again, ok, err := ParseLine(got.String(), "")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, got, again)
		})
	}
}

func TestParseLineSkipsBlankAndComments(t *testing.T) {
	for _, line := range []string{"", "   ", "# a comment", "\t# indented"} {
		_, ok, err := ParseLine(line, "")
		require.NoError(t, err)
		assert.False(t, ok, "%q", line)
	}
}

func TestParseLineErrors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"dance A", `unknown command "dance"`},
		{`"agent" A`, "unknown command"},
		{"agent", "missing name"},
		{"agent A B", `unexpected "B"`},
		{`agent "A"`, "must not be quoted"},
		{`say A s1 "unterminated`, "unterminated string"},
		{"agree g1 A,B", `expected "parties"`},
		{"now soon", "must be an integer"},
		{"rollback", "missing seq"},
		{"policy p1 file missing.mg", "read policy file"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, _, err := ParseLine(tt.line, t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseReportsLine(t *testing.T) {
	_, err := Parse(strings.NewReader("agent A\n\nagent\n"), "demo.jact", "")
	require.Error(t, err)
	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 3, syntaxErr.Line)
	assert.ErrorIs(t, err, ErrSyntax)
	assert.True(t, strings.HasPrefix(err.Error(), "demo.jact:3: "))
}

func TestLoadFileLineScript(t *testing.T) {
	dir := t.TempDir()
	rules := `violation("missing-capability", E) :- enactment(E, A, _, _, _, _), !capability(A, "read").`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "policies"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policies", "read.mg"), []byte(rules), 0644))
	path := filepath.Join(dir, "demo.jact")
	require.NoError(t, os.WriteFile(path, []byte(`# the scenario from the paper
agent A
agent B
say A s1 "B may read dataset X"
agree g1 parties A,B cites s1
enact B e1 g1 "read dataset X"
policy p1 file policies/read.mg
activate p1
check
`), 0644))

	script, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", script.Name)
	assert.Equal(t, FormatLine, script.Format)
	require.Len(t, script.Commands, 8)
	assert.Equal(t, rules, script.Commands[5].Rules)
	assert.Equal(t, []string{path, filepath.Join(dir, "policies", "read.mg")}, script.Sources)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatLua, FormatOf("a/b.LUA"))
	assert.Equal(t, FormatYAML, FormatOf("x.yml"))
	assert.Equal(t, FormatYAML, FormatOf("x.yaml"))
	assert.Equal(t, FormatLine, FormatOf("x.jact"))
	assert.Equal(t, FormatLine, FormatOf("script"))
}
