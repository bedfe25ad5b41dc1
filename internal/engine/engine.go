// Package engine runs compiled commands against a scope: argument binding,
// strictly sequential action execution, nested command invocation, and
// error propagation or suppression.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/sitepress/internal/command"
	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/scope"
	"git.home.luguber.info/inful/sitepress/internal/template"
)

// ErrCommandNotFound is returned when a name cannot be resolved against the
// registry at call time.
var ErrCommandNotFound = errors.New("command not found")

// Run invokes the named command against a child scope derived from parent.
//
// Scope derivation order: local vars are evaluated against the parent scope
// (locals cannot see each other), then positional arguments are bound from
// the already-resolved args, then the raw argument string is recorded.
// Arguments are resolved once by the caller, never re-evaluated against the
// evolving child scope.
func Run(ctx context.Context, reg *command.Registry, name string, parent *scope.Scope, args []string) error {
	cmd, ok := reg.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrCommandNotFound, name)
	}

	overlay := make(map[string]string, len(cmd.Vars)+len(cmd.Args))
	for k, tmpl := range cmd.Vars {
		overlay[k] = template.Eval(tmpl, parent)
	}
	for i, argName := range cmd.Args {
		if i >= len(args) {
			// Omitted positional: the key stays absent, not empty.
			break
		}
		overlay[argName] = args[i]
	}
	child := parent.Derive(overlay)
	child.SetRawArgs(args)

	if err := runActions(ctx, reg, cmd, child); err != nil {
		if cmd.SilentFail {
			slog.Debug("Command failure suppressed", logfields.Command(name), logfields.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// runActions executes the action sequence strictly in order; each action's
// scope writes are fully visible to the next one. The first failure stops
// the sequence.
func runActions(ctx context.Context, reg *command.Registry, cmd *command.Compiled, sc *scope.Scope) error {
	for i, action := range cmd.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case action.Inline != nil:
			inv := command.Invocation{
				Scope: sc,
				Call: func(ctx context.Context, name string, args []string) error {
					return Run(ctx, reg, name, sc, args)
				},
			}
			if err := action.Inline(ctx, inv); err != nil {
				return fmt.Errorf("%s: action %d: %w", cmd.Name, i, err)
			}
		case action.Call != nil:
			// Argument templates see the current child scope, including
			// values written by earlier actions in this same sequence.
			resolved := template.EvalAll(action.Call.ArgTemplates, sc)
			if err := Run(ctx, reg, action.Call.Name, sc, resolved); err != nil {
				return fmt.Errorf("%s: action %d (%s): %w", cmd.Name, i, action.Call.Name, err)
			}
		default:
			return fmt.Errorf("%s: action %d has no operation", cmd.Name, i)
		}
	}
	return nil
}
