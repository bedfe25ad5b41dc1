// Package command holds the declarative command model: definitions as they
// appear in configuration, the compiled form the engine executes, and the
// registry that resolves command names at call time.
package command

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/sitepress/internal/scope"
)

// Invocation is handed to inline operations. It carries the current scope
// and an explicit handle for invoking sibling commands; there is no hidden
// process-wide registry.
type Invocation struct {
	Scope *scope.Scope

	// Call runs a registered command with the given already-resolved
	// arguments, against the invocation's scope.
	Call func(ctx context.Context, name string, args []string) error
}

// Op is an opaque external operation registered as a command action: a
// process invocation, a repository primitive, a server start routine.
type Op func(ctx context.Context, inv Invocation) error

// Call references another registered command. Argument templates are
// evaluated against the current scope immediately before the call.
type Call struct {
	Name         string
	ArgTemplates []string
}

// Action is one step of a command: either a call to another command or an
// inline operation. Exactly one field is set.
type Action struct {
	Call   *Call
	Inline Op
}

// Definition is the YAML-facing shape of a command.
type Definition struct {
	Args       []string          `yaml:"args,omitempty"`
	Vars       map[string]string `yaml:"vars,omitempty"`
	Action     StringList        `yaml:"action,omitempty"`
	Actions    StringList        `yaml:"actions,omitempty"`
	SilentFail bool              `yaml:"silentFail,omitempty"`
}

// StringList decodes either a single YAML scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements scalar-or-sequence decoding.
func (l *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var one string
	if err := unmarshal(&one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return fmt.Errorf("action must be a string or a list of strings: %w", err)
	}
	*l = StringList(many)
	return nil
}

// Compiled is an invocable command.
type Compiled struct {
	Name       string
	Args       []string
	Vars       map[string]string
	Actions    []Action
	SilentFail bool
}

// CompileError reports a malformed command definition. It is fatal at load
// time; compilation problems are never deferred to call time.
type CompileError struct {
	Command string
	Reason  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("command %q: %s", e.Command, e.Reason)
}

// Compile validates and normalizes a definition. Compiling is side-effect
// free and idempotent to re-run.
func Compile(name string, def Definition) (*Compiled, error) {
	actions := make([]string, 0, len(def.Actions)+len(def.Action))
	actions = append(actions, def.Actions...)
	actions = append(actions, def.Action...)
	if len(actions) == 0 {
		return nil, &CompileError{Command: name, Reason: "no actions defined"}
	}

	compiled := &Compiled{
		Name:       name,
		Args:       append([]string(nil), def.Args...),
		Vars:       def.Vars,
		SilentFail: def.SilentFail,
	}
	for i, raw := range actions {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			return nil, &CompileError{Command: name, Reason: fmt.Sprintf("action %d is empty", i)}
		}
		compiled.Actions = append(compiled.Actions, Action{
			Call: &Call{Name: fields[0], ArgTemplates: fields[1:]},
		})
	}
	return compiled, nil
}
