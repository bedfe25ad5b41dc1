// Package template evaluates {name}-style placeholder strings against a
// scope. Evaluation is pure: it reads nothing but the given scope and has no
// side effects.
//
// Placeholders referencing an unbound name are left literal. This keeps a
// half-filled pipeline debuggable (the unresolved name shows up verbatim in
// logs and process arguments) and lets actions validate required arguments
// explicitly instead of failing inside string substitution.
package template

import (
	"regexp"

	"git.home.luguber.info/inful/sitepress/internal/scope"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_][A-Za-z0-9_.-]*)\}`)

// Eval resolves every {name} placeholder in tmpl against sc. Unbound names
// are left literal.
func Eval(tmpl string, sc *scope.Scope) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := sc.Get(name); ok {
			return v
		}
		return match
	})
}

// EvalAll resolves a slice of templates against sc.
func EvalAll(tmpls []string, sc *scope.Scope) []string {
	if len(tmpls) == 0 {
		return nil
	}
	out := make([]string, len(tmpls))
	for i, t := range tmpls {
		out[i] = Eval(t, sc)
	}
	return out
}

// Vars lists the placeholder names referenced by tmpl, in order of first
// appearance.
func Vars(tmpl string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
