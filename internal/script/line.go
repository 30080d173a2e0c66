package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"justact/internal/interpreter"
)

// ErrSyntax is the cause of every line syntax error.
var ErrSyntax = errors.New("syntax error")

// ParseLine parses one line of the line syntax. ok is false for blank and
// comment lines. baseDir resolves `policy NAME file PATH`.
func ParseLine(line, baseDir string) (cmd interpreter.Command, ok bool, err error) {
	src := source{baseDir: baseDir}
	return src.parseLine(line)
}

// Parse reads a line script from r.
func Parse(r io.Reader, name, baseDir string) (*Script, error) {
	src := source{name: name, baseDir: baseDir}
	script, err := parseLines(r, &src)
	if err != nil {
		return nil, err
	}
	script.Sources = src.sources
	return script, nil
}

func parseLines(r io.Reader, src *source) (*Script, error) {
	script := &Script{Format: FormatLine}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		cmd, ok, err := src.parseLine(scanner.Text())
		if err != nil {
			return nil, &SyntaxError{File: src.name, Line: lineNo, Err: err}
		}
		if ok {
			script.Commands = append(script.Commands, cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return script, nil
}

type token struct {
	text   string
	quoted bool
}

// tokenize splits a line on whitespace. Double-quoted tokens follow Go
// string literal rules; an unquoted # starts a comment.
func tokenize(line string) ([]token, error) {
	var tokens []token
	rs := []rune(line)
	for i := 0; i < len(rs); {
		switch {
		case unicode.IsSpace(rs[i]):
			i++
		case rs[i] == '#':
			return tokens, nil
		case rs[i] == '"':
			j := i + 1
			for ; j < len(rs) && rs[j] != '"'; j++ {
				if rs[j] == '\\' {
					j++
				}
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated string", ErrSyntax)
			}
			text, err := strconv.Unquote(string(rs[i : j+1]))
			if err != nil {
				return nil, fmt.Errorf("%w: bad string %s: %v", ErrSyntax, string(rs[i:j+1]), err)
			}
			tokens = append(tokens, token{text: text, quoted: true})
			i = j + 1
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) {
				j++
			}
			tokens = append(tokens, token{text: string(rs[i:j])})
			i = j
		}
	}
	return tokens, nil
}

func (s *source) parseLine(line string) (interpreter.Command, bool, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return interpreter.Command{}, false, err
	}
	if len(tokens) == 0 {
		return interpreter.Command{}, false, nil
	}
	kind := interpreter.Kind(tokens[0].text)
	if tokens[0].quoted || !kind.Valid() {
		return interpreter.Command{}, false, fmt.Errorf("%w: unknown command %q", ErrSyntax, tokens[0].text)
	}
	a := args{kind: kind, tokens: tokens[1:]}
	cmd := interpreter.Command{Kind: kind}

	switch kind {
	case interpreter.KindDeclareAgent, interpreter.KindActivatePolicy:
		cmd.Name = a.word("name")
	case interpreter.KindGrant, interpreter.KindRevoke:
		cmd.Agent = a.word("agent")
		cmd.Capability = a.word("capability")
	case interpreter.KindAssert:
		cmd.Agent = a.word("author")
		cmd.Name = a.word("name")
		cmd.Payload = a.text("payload")
		if a.keyword("retracts") {
			cmd.Retracts = a.word("statement")
		}
	case interpreter.KindRetract:
		cmd.Agent = a.word("author")
		cmd.Name = a.word("name")
	case interpreter.KindAgree:
		cmd.Name = a.word("name")
		a.expect("parties")
		cmd.Parties = splitList(a.word("parties"))
		if a.keyword("cites") {
			cmd.Statements = splitList(a.word("statements"))
		}
		if a.keyword("at") {
			cmd.At = a.int("at")
		}
	case interpreter.KindEnact:
		cmd.Agent = a.word("actor")
		cmd.Name = a.word("name")
		cmd.Agreement = a.word("agreement")
		cmd.Effect = a.text("effect")
		if a.keyword("because") {
			cmd.Statements = splitList(a.word("statements"))
		}
	case interpreter.KindLoadPolicy:
		cmd.Name = a.word("name")
		if a.keyword("file") {
			path := a.text("path")
			if a.err == nil {
				rules, err := s.readPolicy(path)
				if err != nil {
					return interpreter.Command{}, false, err
				}
				cmd.Rules = rules
			}
		} else {
			cmd.Rules = a.text("rules")
		}
	case interpreter.KindAdvanceTime:
		cmd.At = a.int("time")
	case interpreter.KindRollback:
		cmd.Seq = a.int("seq")
	}
	a.done()
	if a.err != nil {
		return interpreter.Command{}, false, a.err
	}
	return cmd, true, nil
}

// args consumes the tokens after the command word. The first error sticks
// and later calls are no-ops.
type args struct {
	kind   interpreter.Kind
	tokens []token
	err    error
}

func (a *args) next(what string) (token, bool) {
	if a.err != nil {
		return token{}, false
	}
	if len(a.tokens) == 0 {
		a.err = fmt.Errorf("%w: %s: missing %s", ErrSyntax, a.kind, what)
		return token{}, false
	}
	t := a.tokens[0]
	a.tokens = a.tokens[1:]
	return t, true
}

// word takes a bare name.
func (a *args) word(what string) string {
	t, ok := a.next(what)
	if !ok {
		return ""
	}
	if t.quoted {
		a.err = fmt.Errorf("%w: %s: %s must not be quoted", ErrSyntax, a.kind, what)
		return ""
	}
	return t.text
}

// text takes a quoted string or a single bare word.
func (a *args) text(what string) string {
	t, _ := a.next(what)
	return t.text
}

func (a *args) int(what string) *int64 {
	t, ok := a.next(what)
	if !ok {
		return nil
	}
	v, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil {
		a.err = fmt.Errorf("%w: %s: %s must be an integer, got %q", ErrSyntax, a.kind, what, t.text)
		return nil
	}
	return &v
}

// keyword consumes the next token if it is the bare word kw.
func (a *args) keyword(kw string) bool {
	if a.err != nil || len(a.tokens) == 0 {
		return false
	}
	t := a.tokens[0]
	if t.quoted || t.text != kw {
		return false
	}
	a.tokens = a.tokens[1:]
	return true
}

func (a *args) expect(kw string) {
	if a.err == nil && !a.keyword(kw) {
		a.err = fmt.Errorf("%w: %s: expected %q", ErrSyntax, a.kind, kw)
	}
}

func (a *args) done() {
	if a.err == nil && len(a.tokens) > 0 {
		a.err = fmt.Errorf("%w: %s: unexpected %q", ErrSyntax, a.kind, a.tokens[0].text)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
