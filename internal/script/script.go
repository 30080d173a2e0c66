// Package script loads scenario scripts into commands. Three front ends
// produce the same []interpreter.Command:
//
//   - line scripts (.jact and anything unrecognised), one command per line,
//     the same syntax the REPL accepts
//   - Lua scripts (.lua) building a Scenario object
//   - YAML scripts (.yaml, .yml) listing command objects
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"justact/internal/interpreter"
)

// Format identifies a script front end.
type Format string

const (
	FormatLine Format = "line"
	FormatLua  Format = "lua"
	FormatYAML Format = "yaml"
)

// Script is a loaded scenario script.
type Script struct {
	Name     string
	Path     string
	Format   Format
	Commands []interpreter.Command
	// Sources lists every file the script read: the script itself first,
	// then referenced policy files.
	Sources []string
}

// FormatOf picks the front end for a path by its extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return FormatLua
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatLine
}

// LoadFile reads and parses the script at path. Relative policy file
// references resolve against the script's directory.
func LoadFile(path string) (*Script, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve script path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	src := source{name: abs, baseDir: filepath.Dir(abs), sources: []string{abs}}
	var script *Script
	switch FormatOf(abs) {
	case FormatLua:
		script, err = parseLua(string(data), &src)
	case FormatYAML:
		script, err = parseYAML(data, &src)
	default:
		script, err = parseLines(strings.NewReader(string(data)), &src)
	}
	if err != nil {
		return nil, err
	}
	script.Path = abs
	script.Sources = src.sources
	if strings.TrimSpace(script.Name) == "" {
		script.Name = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	return script, nil
}

// source carries what the parsers need to know about where a script came
// from.
type source struct {
	name    string
	baseDir string
	sources []string
}

// readPolicy loads a policy file referenced from the script.
func (s *source) readPolicy(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy file: %w", err)
	}
	s.sources = append(s.sources, path)
	return string(data), nil
}

// SyntaxError reports a script that could not be parsed.
type SyntaxError struct {
	File string
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	case e.File != "":
		return fmt.Sprintf("%s: %v", e.File, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *SyntaxError) Unwrap() error { return e.Err }
