package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"armouriq/armour/pkg/action"
	"armouriq/armour/pkg/cli"
	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/policy/parser"
)

var lintFlags struct {
	file        string
	dir         string
	strict      bool
	format      string
	maxDepth    int
	maxChildren int
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate policy files",
	Long: `Validate policy files for syntax and structural errors.

The lint command loads each file the way the engine does and reports:
  - YAML syntax errors
  - Missing or invalid rule fields, unknown operators and severities
  - Duplicate rule names and trees that are too deep or too wide
  - Warnings for tools with no ALLOW rule (every request is blocked) and
    for tools no action is bound to

Examples:
  # Lint single file
  armour lint --file policies/payments.yaml

  # Lint directory
  armour lint --dir policies/

  # Strict mode (warnings as errors)
  armour lint --dir policies/ --strict

  # JSON output for CI/CD
  armour lint --dir policies/ --format json`,
	RunE: lintPolicies,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringVarP(&lintFlags.file, "file", "f", "", "policy file to validate")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of policy files")
	lintCmd.Flags().BoolVar(&lintFlags.strict, "strict", false, "treat warnings as errors")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json")
	lintCmd.Flags().IntVar(&lintFlags.maxDepth, "max-depth", 0, "maximum condition tree depth (0 uses the parser default)")
	lintCmd.Flags().IntVar(&lintFlags.maxChildren, "max-children", 0, "maximum children per group (0 uses the parser default)")
}

func lintPolicies(cmd *cobra.Command, args []string) error {
	if lintFlags.file == "" && lintFlags.dir == "" {
		return fmt.Errorf("either --file or --dir must be specified")
	}
	format, err := cli.ParseFormat(lintFlags.format)
	if err != nil {
		return err
	}

	var files []string
	if lintFlags.file != "" {
		files = append(files, lintFlags.file)
	}
	if lintFlags.dir != "" {
		matches, err := parser.PolicyFiles(lintFlags.dir)
		if err != nil {
			return fmt.Errorf("failed to list policy files: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no policy files found")
	}

	p := parser.NewParser()
	if lintFlags.maxDepth > 0 {
		p.WithMaxDepth(lintFlags.maxDepth)
	}
	if lintFlags.maxChildren > 0 {
		p.WithMaxChildren(lintFlags.maxChildren)
	}

	results := make([]ValidationResult, 0, len(files))
	for _, file := range files {
		results = append(results, validatePolicyFile(p, file))
	}

	out := outWriter(cmd)
	if format == cli.FormatJSON {
		if err := cli.NewFormatter(format).FormatTo(out, results); err != nil {
			return err
		}
		return lintVerdict(results, lintFlags.strict)
	}
	outputText(out, results, lintFlags.strict)
	return lintVerdict(results, lintFlags.strict)
}

// ValidationResult represents the validation result for a single policy file.
type ValidationResult struct {
	File     string            `json:"file"`
	Valid    bool              `json:"valid"`
	Rules    int               `json:"rules"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
}

// ValidationError represents a single validation error or warning.
type ValidationError struct {
	Line       int    `json:"line,omitempty"`
	Rule       string `json:"rule,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Severity   string `json:"severity"`
	Type       string `json:"type,omitempty"`
}

func validatePolicyFile(p *parser.Parser, path string) ValidationResult {
	result := ValidationResult{File: path, Valid: true}

	set, err := p.Parse(path)
	if err != nil {
		result.Valid = false
		result.Errors = parseErrors(err)
		return result
	}
	result.Rules = len(set.Rules)
	result.Warnings = ruleWarnings(set, action.DefaultRegistry())
	return result
}

func parseErrors(err error) []ValidationError {
	var list *parser.ErrorList
	if errors.As(err, &list) {
		out := make([]ValidationError, 0, len(list.Errors))
		for _, e := range list.Errors {
			out = append(out, fromParserError(e))
		}
		return out
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return []ValidationError{fromParserError(single)}
	}
	return []ValidationError{{Message: err.Error(), Severity: "error"}}
}

func fromParserError(e *parser.Error) ValidationError {
	v := ValidationError{
		Line:       e.Location.Line,
		Message:    e.Message,
		Suggestion: e.Suggestion,
		Severity:   "error",
		Type:       string(e.Type),
	}
	var complex *parser.PolicyTreeTooComplexError
	if errors.As(e, &complex) {
		v.Rule = complex.Rule
	}
	return v
}

// ruleWarnings flags rule sets that load but cannot do what their author
// probably meant.
func ruleWarnings(set *ast.RuleSet, registry *action.Registry) []ValidationError {
	bound := make(map[string]bool)
	for _, name := range registry.Actions() {
		if s, ok := registry.Lookup(name); ok {
			bound[s.Tool] = true
		}
	}

	var out []ValidationError
	for _, tool := range set.Tools() {
		rules := set.ForTool(tool)
		hasAllow := false
		for _, r := range rules {
			if r.IsAllow() {
				hasAllow = true
				break
			}
		}
		if !hasAllow {
			out = append(out, ValidationError{
				Line:     rules[0].Location.Line,
				Rule:     rules[0].Name,
				Message:  fmt.Sprintf("tool %q has no ALLOW rule; every request for it is blocked", tool),
				Severity: "warning",
			})
		}
		if !bound[tool] {
			out = append(out, ValidationError{
				Line:     rules[0].Location.Line,
				Rule:     rules[0].Name,
				Message:  fmt.Sprintf("no action is bound to tool %q; its rules are never evaluated", tool),
				Severity: "warning",
			})
		}
	}
	return out
}

func outputText(w io.Writer, results []ValidationResult, strict bool) {
	totalErrors := 0
	totalWarnings := 0

	for _, result := range results {
		fmt.Fprintf(w, "Validating %s...\n", filepath.Clean(result.File))

		if len(result.Errors) == 0 {
			fmt.Fprintln(w, "✓ Syntax valid")
			fmt.Fprintf(w, "✓ %d rule(s) loaded\n", result.Rules)
		}

		for _, err := range result.Errors {
			fmt.Fprintf(w, "✗ Error: %s", err.Message)
			if err.Line > 0 {
				fmt.Fprintf(w, " (line %d)", err.Line)
			}
			if err.Type != "" {
				fmt.Fprintf(w, " [%s]", err.Type)
			}
			fmt.Fprintln(w)
			if err.Suggestion != "" {
				fmt.Fprintf(w, "  hint: %s\n", err.Suggestion)
			}
			totalErrors++
		}

		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "⚠  Warning: %s", warn.Message)
			if warn.Line > 0 {
				fmt.Fprintf(w, " (line %d)", warn.Line)
			}
			fmt.Fprintln(w)
			totalWarnings++
		}

		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  %d error(s), %d warning(s)\n", totalErrors, totalWarnings)
	if strict && totalWarnings > 0 {
		fmt.Fprintln(w, "  Strict mode enabled: treating warnings as errors")
	}
}

func lintVerdict(results []ValidationResult, strict bool) error {
	for _, r := range results {
		if len(r.Errors) > 0 || (strict && len(r.Warnings) > 0) {
			return cli.NewCommandError("lint", fmt.Errorf("validation failed"))
		}
	}
	return nil
}
