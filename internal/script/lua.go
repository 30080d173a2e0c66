package script

import (
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"

	"justact/internal/interpreter"
)

const scenarioTypeName = "justact.scenario"

// luaScenario is the userdata behind a Lua Scenario object.
type luaScenario struct {
	name     string
	commands []interpreter.Command
}

// ParseLua runs a Lua scenario script held in memory. name labels errors;
// baseDir resolves policy_file paths.
func ParseLua(src, name, baseDir string) (*Script, error) {
	s := source{name: name, baseDir: baseDir}
	script, err := parseLua(src, &s)
	if err != nil {
		return nil, err
	}
	script.Sources = s.sources
	return script, nil
}

func parseLua(src string, s *source) (*Script, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)
	registerScenarioType(state, s)

	if err := lua.LoadBuffer(state, src, "@"+s.name, "t"); err != nil {
		return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("load lua: %w", err)}
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("run lua: %w", err)}
	}

	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("scenario script must return Scenario")}
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	sc, ok := ud.(*luaScenario)
	if !ok || sc == nil {
		return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("scenario script returned invalid Scenario")}
	}
	return &Script{Name: sc.name, Format: FormatLua, Commands: sc.commands}, nil
}

func registerScenarioType(state *lua.State, s *source) {
	lua.NewMetaTable(state, scenarioTypeName)
	state.NewTable()
	lua.SetFunctions(state, scenarioMethods(s), 0)
	state.SetField(-2, "__index")
	state.Pop(1)

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{{Name: "new", Function: scenarioNew}}, 0)
	state.SetGlobal("Scenario")
}

func scenarioNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	state.PushUserData(&luaScenario{name: name})
	lua.SetMetaTableNamed(state, scenarioTypeName)
	return 1
}

// method wraps a command builder as a Scenario method. Methods return the
// scenario so that calls chain.
func method(build func(state *lua.State) interpreter.Command) lua.Function {
	return func(state *lua.State) int {
		sc := checkScenario(state)
		sc.commands = append(sc.commands, build(state))
		state.PushValue(1)
		return 1
	}
}

func scenarioMethods(s *source) []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "agent", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindDeclareAgent, Name: lua.CheckString(state, 2)}
		})},
		{Name: "grant", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindGrant, Agent: lua.CheckString(state, 2), Capability: lua.CheckString(state, 3)}
		})},
		{Name: "revoke", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindRevoke, Agent: lua.CheckString(state, 2), Capability: lua.CheckString(state, 3)}
		})},
		{Name: "say", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{
				Kind:     interpreter.KindAssert,
				Agent:    lua.CheckString(state, 2),
				Name:     lua.CheckString(state, 3),
				Payload:  lua.CheckString(state, 4),
				Retracts: lua.OptString(state, 5, ""),
			}
		})},
		{Name: "retract", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindRetract, Agent: lua.CheckString(state, 2), Name: lua.CheckString(state, 3)}
		})},
		{Name: "agree", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{
				Kind:       interpreter.KindAgree,
				Name:       lua.CheckString(state, 2),
				Parties:    stringList(state, 3),
				Statements: stringList(state, 4),
				At:         optInt(state, 5),
			}
		})},
		{Name: "enact", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{
				Kind:       interpreter.KindEnact,
				Agent:      lua.CheckString(state, 2),
				Name:       lua.CheckString(state, 3),
				Agreement:  lua.CheckString(state, 4),
				Effect:     lua.CheckString(state, 5),
				Statements: stringList(state, 6),
			}
		})},
		{Name: "policy", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindLoadPolicy, Name: lua.CheckString(state, 2), Rules: lua.CheckString(state, 3)}
		})},
		{Name: "policy_file", Function: method(func(state *lua.State) interpreter.Command {
			name := lua.CheckString(state, 2)
			rules, err := s.readPolicy(lua.CheckString(state, 3))
			if err != nil {
				lua.Errorf(state, "policy %s: %s", name, err.Error())
			}
			return interpreter.Command{Kind: interpreter.KindLoadPolicy, Name: name, Rules: rules}
		})},
		{Name: "activate", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindActivatePolicy, Name: lua.CheckString(state, 2)}
		})},
		{Name: "now", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindAdvanceTime, At: interpreter.Int64(int64(lua.CheckInteger(state, 2)))}
		})},
		{Name: "check", Function: method(func(*lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindCheck}
		})},
		{Name: "check_all", Function: method(func(*lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindCheckAll}
		})},
		{Name: "rollback", Function: method(func(state *lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindRollback, Seq: interpreter.Int64(int64(lua.CheckInteger(state, 2)))}
		})},
		{Name: "inspect", Function: method(func(*lua.State) interpreter.Command {
			return interpreter.Command{Kind: interpreter.KindInspect}
		})},
	}
}

func checkScenario(state *lua.State) *luaScenario {
	ud := lua.CheckUserData(state, 1, scenarioTypeName)
	if sc, ok := ud.(*luaScenario); ok && sc != nil {
		return sc
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

// stringList reads an optional list argument given either as a Lua array
// of strings or as one comma-separated string.
func stringList(state *lua.State, index int) []string {
	if state.IsNoneOrNil(index) {
		return nil
	}
	if state.TypeOf(index) == lua.TypeString {
		s, _ := state.ToString(index)
		return splitList(s)
	}
	lua.CheckType(state, index, lua.TypeTable)
	n := state.RawLength(index)
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		state.RawGetInt(index, i)
		s, ok := state.ToString(-1)
		state.Pop(1)
		if !ok {
			lua.ArgumentError(state, index, "list of strings expected")
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func optInt(state *lua.State, index int) *int64 {
	if state.IsNoneOrNil(index) {
		return nil
	}
	return interpreter.Int64(int64(lua.CheckInteger(state, index)))
}
