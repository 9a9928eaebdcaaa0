// Package transform builds and applies class rewrites.
//
// A Transform is an ordered, tagged list of rewrite steps. Each step targets
// one kind of class element (the class itself, every method, or every field)
// and all steps share the Rewriter capability. Chaining two transforms
// concatenates their steps, so chaining is associative and never drops a step:
// for every kind the left operand's steps run before the right operand's.
package transform

import (
	"fmt"

	"mixinhost/pkg/classfile"
)

// Kind tags the class element a step rewrites.
type Kind uint8

const (
	KindClass Kind = iota + 1
	KindMethod
	KindField
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindMethod:
		return "method"
	case KindField:
		return "field"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Site is the element handed to a Rewriter. Class is always set; Method or
// Field is set for method and field steps respectively.
type Site struct {
	Class  *classfile.Class
	Method *classfile.Method
	Field  *classfile.Field
}

// Rewriter mutates a class element in place.
type Rewriter interface {
	Rewrite(site *Site) error
}

// RewriteFunc adapts a function to Rewriter.
type RewriteFunc func(site *Site) error

// Rewrite implements Rewriter.
func (f RewriteFunc) Rewrite(site *Site) error { return f(site) }

// Step is one tagged rewrite contributed by a source class.
type Step struct {
	Kind     Kind
	Source   string
	Rewriter Rewriter
}

// Transform is an immutable sequence of steps. The zero value is the identity.
type Transform struct {
	steps []Step
}

// New returns a transform made of the given steps in order.
func New(steps ...Step) Transform {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if s.Rewriter == nil {
			continue
		}
		out = append(out, s)
	}
	return Transform{steps: out}
}

// OnClass returns a single class-level step.
func OnClass(source string, fn func(c *classfile.Class) error) Transform {
	return New(Step{Kind: KindClass, Source: source, Rewriter: RewriteFunc(func(s *Site) error { return fn(s.Class) })})
}

// OnMethod returns a step run once per method of the target class.
func OnMethod(source string, fn func(owner *classfile.Class, m *classfile.Method) error) Transform {
	return New(Step{Kind: KindMethod, Source: source, Rewriter: RewriteFunc(func(s *Site) error { return fn(s.Class, s.Method) })})
}

// OnField returns a step run once per field of the target class.
func OnField(source string, fn func(owner *classfile.Class, f *classfile.Field) error) Transform {
	return New(Step{Kind: KindField, Source: source, Rewriter: RewriteFunc(func(s *Site) error { return fn(s.Class, s.Field) })})
}

// Chain returns a transform running t's steps and then next's steps for
// every kind. Neither operand is modified.
func (t Transform) Chain(next Transform) Transform {
	if len(next.steps) == 0 {
		return t
	}
	if len(t.steps) == 0 {
		return next
	}
	out := make([]Step, 0, len(t.steps)+len(next.steps))
	out = append(out, t.steps...)
	out = append(out, next.steps...)
	return Transform{steps: out}
}

// Len returns the number of steps.
func (t Transform) Len() int { return len(t.steps) }

// Steps returns the steps of one kind in application order.
func (t Transform) Steps(kind Kind) []Step {
	var out []Step
	for _, s := range t.steps {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Sources returns the distinct step sources in first-seen order.
func (t Transform) Sources() []string {
	seen := make(map[string]struct{}, len(t.steps))
	var out []string
	for _, s := range t.steps {
		if _, ok := seen[s.Source]; ok {
			continue
		}
		seen[s.Source] = struct{}{}
		out = append(out, s.Source)
	}
	return out
}

// Run rewrites c in place: class steps first, then for each method every
// method step in order, then for each field every field step in order.
// Methods and fields added by class steps are visited.
func (t Transform) Run(c *classfile.Class) error {
	for _, s := range t.Steps(KindClass) {
		if err := s.Rewriter.Rewrite(&Site{Class: c}); err != nil {
			return &StepError{Kind: KindClass, Source: s.Source, Target: c.Name, Err: err}
		}
	}
	if methodSteps := t.Steps(KindMethod); len(methodSteps) > 0 {
		for i := range c.Methods {
			for _, s := range methodSteps {
				if err := s.Rewriter.Rewrite(&Site{Class: c, Method: &c.Methods[i]}); err != nil {
					return &StepError{Kind: KindMethod, Source: s.Source, Target: c.Name, Member: c.Methods[i].Name, Err: err}
				}
			}
		}
	}
	if fieldSteps := t.Steps(KindField); len(fieldSteps) > 0 {
		for i := range c.Fields {
			for _, s := range fieldSteps {
				if err := s.Rewriter.Rewrite(&Site{Class: c, Field: &c.Fields[i]}); err != nil {
					return &StepError{Kind: KindField, Source: s.Source, Target: c.Name, Member: c.Fields[i].Name, Err: err}
				}
			}
		}
	}
	return nil
}

// StepError reports which step failed while rewriting a class.
type StepError struct {
	Kind   Kind
	Source string
	Target string
	Member string
	Err    error
}

func (e *StepError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("transform: %s step from %s failed on %s.%s: %v", e.Kind, e.Source, e.Target, e.Member, e.Err)
	}
	return fmt.Sprintf("transform: %s step from %s failed on %s: %v", e.Kind, e.Source, e.Target, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
