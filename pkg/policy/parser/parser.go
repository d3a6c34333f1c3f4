package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"armouriq/armour/pkg/policy/ast"
)

const (
	// DefaultMaxDepth bounds the height of a rule's condition tree.
	DefaultMaxDepth = 16
	// DefaultMaxChildren bounds the number of children of a single group.
	DefaultMaxChildren = 64
	// DefaultMaxFileSize bounds a single policy file.
	DefaultMaxFileSize = 1 << 20
)

// Parser loads policy files into RuleSets.
type Parser struct {
	maxFileSize int64
	maxDepth    int
	maxChildren int
}

// NewParser creates a parser with default limits.
func NewParser() *Parser {
	return &Parser{
		maxFileSize: DefaultMaxFileSize,
		maxDepth:    DefaultMaxDepth,
		maxChildren: DefaultMaxChildren,
	}
}

// WithMaxDepth sets the maximum condition tree depth.
func (p *Parser) WithMaxDepth(depth int) *Parser {
	if depth > 0 {
		p.maxDepth = depth
	}
	return p
}

// WithMaxChildren sets the maximum number of children per group.
func (p *Parser) WithMaxChildren(n int) *Parser {
	if n > 0 {
		p.maxChildren = n
	}
	return p
}

// WithMaxFileSize sets the maximum policy file size.
func (p *Parser) WithMaxFileSize(size int64) *Parser {
	if size > 0 {
		p.maxFileSize = size
	}
	return p
}

// Parse loads a single policy file, or every .yaml/.yml file in a directory
// in lexical order.
func (p *Parser) Parse(path string) (*ast.RuleSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Type: ErrorTypeIO, Message: fmt.Sprintf("failed to access %s", path), Cause: err}
	}
	if !info.IsDir() {
		return p.ParseFiles([]string{path})
	}

	files, err := PolicyFiles(path)
	if err != nil {
		return nil, err
	}
	set, err := p.ParseFiles(files)
	if err != nil {
		return nil, err
	}
	set.Source = path
	return set, nil
}

// ParseFiles parses files in order and concatenates their rules.
func (p *Parser) ParseFiles(paths []string) (*ast.RuleSet, error) {
	hash := sha256.New()
	set := &ast.RuleSet{Rules: make([]*ast.PolicyRule, 0)}
	errs := &ErrorList{}

	for _, path := range paths {
		data, err := p.readFile(path)
		if err != nil {
			return nil, err
		}
		hash.Write([]byte(path))
		hash.Write(data)

		rules, err := p.parse(data, path)
		if err != nil {
			if list, ok := err.(*ErrorList); ok {
				errs.Errors = append(errs.Errors, list.Errors...)
				continue
			}
			return nil, err
		}
		set.Rules = append(set.Rules, rules...)
	}

	if errs.HasErrors() {
		return nil, errs
	}
	set.Version = hex.EncodeToString(hash.Sum(nil))[:16]
	if len(paths) == 1 {
		set.Source = paths[0]
	}
	return set, nil
}

// ParseBytes parses policy YAML held in memory.
func (p *Parser) ParseBytes(data []byte, sourcePath string) (*ast.RuleSet, error) {
	if int64(len(data)) > p.maxFileSize {
		return nil, &Error{
			Type:     ErrorTypeIO,
			Message:  fmt.Sprintf("data size %d exceeds maximum %d bytes", len(data), p.maxFileSize),
			Location: ast.Location{File: sourcePath},
		}
	}
	rules, err := p.parse(data, sourcePath)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return &ast.RuleSet{
		Version: hex.EncodeToString(sum[:])[:16],
		Source:  sourcePath,
		Rules:   rules,
	}, nil
}

func (p *Parser) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Type: ErrorTypeIO, Message: fmt.Sprintf("failed to access %s", path), Cause: err}
	}
	if info.Size() > p.maxFileSize {
		return nil, &Error{
			Type:     ErrorTypeIO,
			Message:  fmt.Sprintf("file size %d exceeds maximum %d bytes", info.Size(), p.maxFileSize),
			Location: ast.Location{File: path},
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Type: ErrorTypeIO, Message: fmt.Sprintf("failed to read %s", path), Cause: err}
	}
	return data, nil
}

func (p *Parser) parse(data []byte, sourcePath string) ([]*ast.PolicyRule, error) {
	root, err := parseYAML(data)
	if err != nil {
		return nil, &Error{
			Type:       ErrorTypeSyntax,
			Message:    fmt.Sprintf("YAML parsing failed: %v", err),
			Location:   ast.Location{File: sourcePath, Line: 1},
			Suggestion: "check indentation, colons and quotes",
			Cause:      err,
		}
	}

	b := newBuilder(sourcePath)
	rules := b.buildRules(root)
	for _, rule := range rules {
		p.checkLimits(rule, b.errors)
	}
	if b.errors.HasErrors() {
		return nil, b.errors
	}
	return rules, nil
}

func (p *Parser) checkLimits(rule *ast.PolicyRule, errs *ErrorList) {
	depth := rule.Condition.Depth()
	breadth := rule.Condition.MaxBreadth()
	if depth <= p.maxDepth && breadth <= p.maxChildren {
		return
	}
	cause := &PolicyTreeTooComplexError{
		Rule:        rule.Name,
		Depth:       depth,
		Breadth:     breadth,
		MaxDepth:    p.maxDepth,
		MaxChildren: p.maxChildren,
	}
	errs.Add(&Error{
		Type:       ErrorTypeLimit,
		Message:    cause.Error(),
		Location:   rule.Location,
		Suggestion: "split the rule into several flatter rules",
		Cause:      cause,
	})
}

// PolicyFiles lists the .yaml and .yml files directly under dir, sorted.
func PolicyFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Error{Type: ErrorTypeIO, Message: fmt.Sprintf("failed to read directory %s", dir), Cause: err}
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsPolicyFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, &Error{Type: ErrorTypeIO, Message: fmt.Sprintf("no policy files found in %s", dir)}
	}
	return files, nil
}

// IsPolicyFile reports whether name has a policy file extension.
func IsPolicyFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
