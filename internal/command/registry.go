package command

import "sort"

// Registry maps names to compiled commands. It is built once at process
// start and is read-only during execution; it is always passed by handle,
// never held as a package-level singleton.
type Registry struct {
	commands map[string]*Compiled
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Compiled)}
}

// Register adds a compiled command, replacing any previous entry with the
// same name. Registration order matters only for this override behavior.
func (r *Registry) Register(c *Compiled) {
	r.commands[c.Name] = c
}

// RegisterOp registers an inline operation as a command. The operation is
// wrapped in a single-action compiled command so positional argument binding
// works the same way for inline and declarative commands.
func (r *Registry) RegisterOp(name string, args []string, op Op) {
	r.commands[name] = &Compiled{
		Name:    name,
		Args:    append([]string(nil), args...),
		Actions: []Action{{Inline: op}},
	}
}

// Merge compiles a definition set into the registry. Later sources override
// earlier ones on name collision. The first malformed definition aborts the
// merge.
func (r *Registry) Merge(defs map[string]Definition) error {
	// Deterministic order so the first reported error is stable.
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		compiled, err := Compile(name, defs[name])
		if err != nil {
			return err
		}
		r.Register(compiled)
	}
	return nil
}

// Lookup resolves a command name.
func (r *Registry) Lookup(name string) (*Compiled, bool) {
	c, ok := r.commands[name]
	return c, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
