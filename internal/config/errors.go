package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfigInvalid indicates the configuration document failed validation.
var ErrConfigInvalid = errors.New("invalid configuration")

// Problem is a single validation failure.
type Problem struct {
	// Path is a JSON pointer (/scheduling/global_max_jobs) or a dotted key.
	Path    string
	Message string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return fmt.Sprintf("%s: %s", p.Path, p.Message)
}

// InvalidError lists every problem found in a configuration document.
type InvalidError struct {
	Source   string
	Problems []Problem
}

func (e *InvalidError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", e.Source, e.Problems[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d configuration problems:", e.Source, len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.String())
	}
	return b.String()
}

func (e *InvalidError) Unwrap() error {
	return ErrConfigInvalid
}
