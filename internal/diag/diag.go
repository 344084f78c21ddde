// Package diag is the shared error and diagnostic model. Every pipeline
// stage reports typed diagnostics carrying a taxonomy kind, a severity, a
// source location, and a structured context map; stages accumulate
// independent findings and short-circuit across stage boundaries.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags a diagnostic with its place in the error taxonomy.
type Kind string

const (
	KindParse         Kind = "ParseError"
	KindValidation    Kind = "ValidationError"
	KindDependency    Kind = "DependencyError"
	KindCatalog       Kind = "CatalogError"
	KindEmission      Kind = "EmissionError"
	KindConfiguration Kind = "ConfigurationError"
	KindLint          Kind = "Lint"
)

// Severity ranks a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "info"
	}
}

// Diagnostic is one located, typed finding. It implements error so single
// findings can travel through ordinary error returns.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Message  string
	File     string
	Line     int // 1-based; 0 when unknown
	Rule     string
	Context  map[string]string
}

// Errorf builds an error-severity diagnostic.
func Errorf(kind Kind, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Severity: Error, Message: fmt.Sprintf(format, args...)}
}

// Warnf builds a warning-severity diagnostic.
func Warnf(kind Kind, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Severity: Warning, Message: fmt.Sprintf(format, args...)}
}

// At attaches a source location.
func (d *Diagnostic) At(file string, line int) *Diagnostic {
	d.File = file
	d.Line = line
	return d
}

// ForRule attaches the rule name.
func (d *Diagnostic) ForRule(name string) *Diagnostic {
	d.Rule = name
	return d
}

// With adds one context key.
func (d *Diagnostic) With(key, value string) *Diagnostic {
	if d.Context == nil {
		d.Context = make(map[string]string)
	}
	d.Context[key] = value
	return d
}

// Error renders the diagnostic the way the CLI prints it:
// file:line: [Kind] rule "name": message (k=v, ...)
func (d *Diagnostic) Error() string {
	var sb strings.Builder
	if d.File != "" {
		sb.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&sb, ":%d", d.Line)
		}
		sb.WriteString(": ")
	}
	fmt.Fprintf(&sb, "[%s] ", d.Kind)
	if d.Rule != "" {
		fmt.Fprintf(&sb, "rule %q: ", d.Rule)
	}
	sb.WriteString(d.Message)
	if len(d.Context) > 0 {
		keys := make([]string, 0, len(d.Context))
		for k := range d.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + d.Context[k]
		}
		fmt.Fprintf(&sb, " (%s)", strings.Join(parts, ", "))
	}
	return sb.String()
}

// List accumulates diagnostics within a stage.
type List struct {
	diags []*Diagnostic
}

// Add appends diagnostics; nils are skipped.
func (l *List) Add(ds ...*Diagnostic) {
	for _, d := range ds {
		if d != nil {
			l.diags = append(l.diags, d)
		}
	}
}

// Merge appends another list's diagnostics.
func (l *List) Merge(o *List) {
	if o != nil {
		l.diags = append(l.diags, o.diags...)
	}
}

// All returns the accumulated diagnostics in insertion order.
func (l *List) All() []*Diagnostic { return l.diags }

// Errors returns only the error-severity diagnostics.
func (l *List) Errors() []*Diagnostic {
	var out []*Diagnostic
	for _, d := range l.diags {
		if d.Severity == Error {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns only the warning-severity diagnostics.
func (l *List) Warnings() []*Diagnostic {
	var out []*Diagnostic
	for _, d := range l.diags {
		if d.Severity == Warning {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any error-severity diagnostic is present.
func (l *List) HasErrors() bool {
	for _, d := range l.diags {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Len returns the number of accumulated diagnostics.
func (l *List) Len() int { return len(l.diags) }

// PromoteWarnings raises every warning to an error; used by
// --fail-on-warnings at the end of the pipeline.
func (l *List) PromoteWarnings() {
	for _, d := range l.diags {
		if d.Severity == Warning {
			d.Severity = Error
		}
	}
}
