package script

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"justact/internal/interpreter"
)

// yamlScript is the mapping form of a YAML script. A bare sequence of
// commands is accepted too.
type yamlScript struct {
	Name     string        `yaml:"name"`
	Commands []yamlCommand `yaml:"commands"`
}

type yamlCommand struct {
	interpreter.Command `yaml:",inline"`
	// RulesFile loads a policy's rules from a file next to the script.
	RulesFile string `yaml:"rules_file,omitempty"`
}

// ParseYAML parses a YAML scenario script held in memory.
func ParseYAML(data []byte, name, baseDir string) (*Script, error) {
	s := source{name: name, baseDir: baseDir}
	script, err := parseYAML(data, &s)
	if err != nil {
		return nil, err
	}
	script.Sources = s.sources
	return script, nil
}

func parseYAML(data []byte, s *source) (*Script, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("failed to parse yaml: %w", err)}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return &Script{Format: FormatYAML}, nil
	}

	var parsed yamlScript
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var err error
	switch doc.Content[0].Kind {
	case yaml.SequenceNode:
		err = dec.Decode(&parsed.Commands)
	case yaml.MappingNode:
		err = dec.Decode(&parsed)
	default:
		err = errors.New("expected a list of commands or a mapping with commands")
	}
	if err != nil {
		return nil, &SyntaxError{File: s.name, Err: err}
	}

	script := &Script{Name: parsed.Name, Format: FormatYAML}
	for i, yc := range parsed.Commands {
		cmd := yc.Command
		if !cmd.Kind.Valid() {
			return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("command %d: %w: unknown command %q", i, ErrSyntax, cmd.Kind)}
		}
		if yc.RulesFile != "" {
			if cmd.Kind != interpreter.KindLoadPolicy {
				return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("command %d: %w: rules_file only applies to policy", i, ErrSyntax)}
			}
			rules, err := s.readPolicy(yc.RulesFile)
			if err != nil {
				return nil, &SyntaxError{File: s.name, Err: fmt.Errorf("command %d: %w", i, err)}
			}
			cmd.Rules = rules
		}
		script.Commands = append(script.Commands, cmd)
	}
	return script, nil
}
