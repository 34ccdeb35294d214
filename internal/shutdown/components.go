package shutdown

import (
	"context"
	"io"
)

// CloserComponent adapts an io.Closer such as a database store.
type CloserComponent struct {
	name   string
	closer io.Closer
}

// NewCloserComponent creates a closer shutdown component.
func NewCloserComponent(name string, closer io.Closer) *CloserComponent {
	return &CloserComponent{name: name, closer: closer}
}

// Name returns the component name.
func (c *CloserComponent) Name() string {
	return c.name
}

// Shutdown closes the resource, giving up when ctx expires first.
func (c *CloserComponent) Shutdown(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.closer.Close() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FuncComponent adapts a function.
type FuncComponent struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncComponent creates a function-based shutdown component.
func NewFuncComponent(name string, fn func(ctx context.Context) error) *FuncComponent {
	return &FuncComponent{name: name, fn: fn}
}

// Name returns the component name.
func (c *FuncComponent) Name() string {
	return c.name
}

// Shutdown calls the wrapped function.
func (c *FuncComponent) Shutdown(ctx context.Context) error {
	return c.fn(ctx)
}
