package plugin

import (
	"fmt"
	"strings"
)

// Builder collects the commands of one plugin or core module
type Builder struct {
	name     string
	commands map[string]Registration
	order    []string
	err      error
}

// CommandOption configures a registration
type CommandOption func(*Registration)

// RequirePermission gates a command behind a capability permission
func RequirePermission(permission string) CommandOption {
	return func(r *Registration) {
		r.Permission = permission
	}
}

// NewBuilder starts a module definition
func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		commands: make(map[string]Registration),
	}
}

// Name returns the module name
func (b *Builder) Name() string {
	return b.name
}

// Handle registers an asynchronous handler
func (b *Builder) Handle(command string, handler Handler, opts ...CommandOption) *Builder {
	if b.err != nil {
		return b
	}
	switch {
	case command == "" || strings.ContainsAny(command, "|/"):
		b.err = fmt.Errorf("invalid command name %q", command)
		return b
	case handler == nil:
		b.err = fmt.Errorf("command %s has no handler", command)
		return b
	}
	if _, exists := b.commands[command]; exists {
		b.err = fmt.Errorf("command %s registered twice", command)
		return b
	}

	reg := Registration{Command: command, Handler: handler}
	for _, opt := range opts {
		opt(&reg)
	}
	b.commands[command] = reg
	b.order = append(b.order, command)
	return b
}

// HandleFunc registers a synchronous command
func (b *Builder) HandleFunc(command string, fn CommandFunc, opts ...CommandOption) *Builder {
	if fn == nil {
		return b.Handle(command, nil, opts...)
	}
	return b.Handle(command, Sync(fn), opts...)
}

// build returns the finished command table with module tags applied
func (b *Builder) build(module string) (map[string]Registration, error) {
	if b.err != nil {
		return nil, fmt.Errorf("module %s: %w", b.name, b.err)
	}
	out := make(map[string]Registration, len(b.commands))
	for _, name := range b.order {
		reg := b.commands[name]
		reg.Module = module
		out[name] = reg
	}
	return out, nil
}
