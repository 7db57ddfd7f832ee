package approach

import (
	"context"
	"errors"
	"sort"
	"time"
)

const (
	NameOpaqueToken = "opaque-token"
	NameJWT         = "jwt"
)

// Result is what every token validation approach yields for a valid token.
type Result struct {
	Subject     string
	Authorities []string
	Claims      map[string]any
	ExpiresAt   time.Time
}

type Handler interface {
	Name() string
	Validate(ctx context.Context, token string) (Result, error)
}

type Registry struct {
	handlers map[string]Handler
}

var (
	ErrNilHandler     = errors.New("approach: handler is nil")
	ErrEmptyName      = errors.New("approach: handler name is empty")
	ErrDuplicateName  = errors.New("approach: handler already exists")
	ErrUnknownHandler = errors.New("approach: handler is not registered")
)

func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: map[string]Handler{},
	}

	for _, handler := range handlers {
		if err := r.Register(handler); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) Register(handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}

	name := handler.Name()
	if name == "" {
		return ErrEmptyName
	}

	if _, exists := r.handlers[name]; exists {
		return ErrDuplicateName
	}

	r.handlers[name] = handler
	return nil
}

func (r *Registry) Handler(name string) (Handler, bool) {
	handler, ok := r.handlers[name]
	return handler, ok
}

// Validate runs the token through the handler registered under name.
func (r *Registry) Validate(ctx context.Context, name string, token string) (Result, error) {
	handler, ok := r.Handler(name)
	if !ok {
		return Result{}, ErrUnknownHandler
	}
	return handler.Validate(ctx, token)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
