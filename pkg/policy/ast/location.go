package ast

import "fmt"

// Location is the position of a rule or node in its policy file.
type Location struct {
	File string // Path to the policy file
	Line int    // Line number (1-based)
}

// String returns "file:line", or "<unknown>" when no file is set.
func (l Location) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// IsValid returns true if the location has file and line information.
func (l Location) IsValid() bool {
	return l.File != "" && l.Line > 0
}
