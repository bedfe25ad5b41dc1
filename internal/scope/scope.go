// Package scope implements the flat variable scope visible to template
// evaluation during one command invocation.
//
// A scope is conceptually stack-shaped: invoking a command derives a child
// scope (shallow copy of the parent plus overlays) and never mutates the
// caller's bindings. Writes made by an action are visible to every later
// action in the same invocation because lookups are resolved at evaluation
// time, never cached.
package scope

import (
	"sort"
	"strings"
)

// ReservedPrefix marks internal keys that must never leak into a child
// process environment.
const ReservedPrefix = "_"

// RawArgsKey holds the raw joined argument string of the current invocation.
const RawArgsKey = ReservedPrefix + "args"

// Scope is a flat name -> value mapping.
type Scope struct {
	values map[string]string
}

// New creates a scope seeded with the given values. The map is copied; the
// caller keeps ownership of its argument.
func New(values map[string]string) *Scope {
	s := &Scope{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get returns the value bound to name. The second result reports whether the
// name is bound at all; an omitted positional argument is absent, not empty.
func (s *Scope) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Lookup returns the bound value or "" when absent.
func (s *Scope) Lookup(name string) string {
	return s.values[name]
}

// Set binds name to value in this scope only. Parents are never affected.
func (s *Scope) Set(name, value string) {
	s.values[name] = value
}

// Has reports whether name is bound.
func (s *Scope) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Len returns the number of bindings.
func (s *Scope) Len() int { return len(s.values) }

// Derive returns a child scope: a shallow copy of this scope with the given
// overlay applied on top. The receiver is left untouched.
func (s *Scope) Derive(overlay map[string]string) *Scope {
	child := &Scope{values: make(map[string]string, len(s.values)+len(overlay))}
	for k, v := range s.values {
		child.values[k] = v
	}
	for k, v := range overlay {
		child.values[k] = v
	}
	return child
}

// SetRawArgs stores the raw joined argument string under the reserved key.
func (s *Scope) SetRawArgs(args []string) {
	s.values[RawArgsKey] = strings.Join(args, " ")
}

// RawArgs returns the raw argument string of the current invocation.
func (s *Scope) RawArgs() string { return s.values[RawArgsKey] }

// Environ projects the scope into KEY=VALUE pairs suitable for a child
// process environment. Keys with the reserved prefix are excluded. The
// result is sorted for determinism.
func (s *Scope) Environ() []string {
	env := make([]string, 0, len(s.values))
	for k, v := range s.values {
		if strings.HasPrefix(k, ReservedPrefix) {
			continue
		}
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
