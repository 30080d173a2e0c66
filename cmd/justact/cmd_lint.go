package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"justact/internal/evaluator"
	"justact/internal/render"
)

func newLintPolicyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint-policy [file...]",
		Short: "Check Mangle policy files against the scenario schema",
		Long: `Parses and analyzes each policy file together with the scenario schema
without evaluating it. Undeclared predicates, unsafe variables and
unstratifiable negation are reported per file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := render.New(cmd.OutOrStdout())
			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read policy file: %w", err)
				}
				report, err := evaluator.CheckPolicy(string(data))
				if err != nil {
					failed++
					_ = r.Print(fmt.Sprintf("✗ %s\n  %v", path, err))
					continue
				}
				_ = r.Print(fmt.Sprintf("✓ %s: %d rules, predicates %s", path, report.Rules, strings.Join(report.Predicates, ", ")))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d policy files failed", failed, len(args))
			}
			return nil
		},
	}
}
