package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/petstore-backend/pkg/command"
)

// ErrUnknownCommand is returned by Router.Handle for names without a handler.
var ErrUnknownCommand = command.ErrUnknownCommand

// Handler applies one command kind. Returning nil acknowledges the command.
type Handler interface {
	Handle(ctx context.Context, cmd command.Command) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd command.Command) error

func (f HandlerFunc) Handle(ctx context.Context, cmd command.Command) error {
	return f(ctx, cmd)
}

// Router dispatches commands to the handler registered for their name.
// Registration happens at startup; Handle is safe for concurrent use afterwards.
type Router struct {
	handlers map[string]Handler
}

// NewRouter builds a router from name to handler.
func NewRouter(handlers map[string]Handler) (*Router, error) {
	r := &Router{handlers: make(map[string]Handler, len(handlers))}
	for name, handler := range handlers {
		if err := r.Register(name, handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register binds name to handler. Empty and duplicate names are rejected.
func (r *Router) Register(name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("command name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is required", name)
	}
	if r.handlers == nil {
		r.handlers = map[string]Handler{}
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler for %s already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// Handle dispatches cmd to its handler.
func (r *Router) Handle(ctx context.Context, cmd command.Command) error {
	handler, ok := r.handlers[cmd.Name()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name())
	}
	return handler.Handle(ctx, cmd)
}

// Names lists the registered command names in sorted order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
