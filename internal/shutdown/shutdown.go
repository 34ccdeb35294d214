// Package shutdown coordinates graceful shutdown of long-running hotfix
// processes: the delivery server and the resources it holds open.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default graceful shutdown timeout.
const DefaultTimeout = 30 * time.Second

// Component is something that can be stopped gracefully.
type Component interface {
	// Name returns the component name for logging.
	Name() string
	// Shutdown stops the component, returning by the context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator stops registered components on SIGINT/SIGTERM.
type Coordinator struct {
	mu         sync.Mutex
	components []Component
	timeout    time.Duration
	logger     *slog.Logger
	signalCh   chan os.Signal

	once     sync.Once
	done     chan struct{}
	exitCode int
	err      error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the overall shutdown deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSignalChannel replaces OS signal delivery, for tests.
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signalCh = ch
	}
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component. Components stop in reverse registration order,
// so register dependencies before their dependents.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives, then shuts down.
func (c *Coordinator) WaitForSignal() {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case sig := <-sigCh:
		c.logger.Info("received shutdown signal", "signal", sig)
	case <-c.done:
		return
	}
	c.Shutdown()
}

// Shutdown stops every component, one at a time in reverse order, sharing a
// single deadline. Later calls are no-ops.
func (c *Coordinator) Shutdown() {
	c.once.Do(func() {
		defer close(c.done)
		c.logger.Info("initiating graceful shutdown", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		var errs []error
		for i := len(components) - 1; i >= 0; i-- {
			comp := components[i]
			if ctx.Err() != nil {
				c.logger.Warn("shutdown timeout exceeded, skipping component", "name", comp.Name())
				errs = append(errs, ctx.Err())
				continue
			}
			c.logger.Info("shutting down component", "name", comp.Name())
			if err := comp.Shutdown(ctx); err != nil {
				c.logger.Error("component shutdown error", "name", comp.Name(), "error", err)
				errs = append(errs, err)
				continue
			}
			c.logger.Info("component shutdown complete", "name", comp.Name())
		}

		c.err = errors.Join(errs...)
		if c.err != nil {
			c.exitCode = 1
			return
		}
		c.logger.Info("all components shut down successfully")
	})
}

// Wait blocks until shutdown is complete.
func (c *Coordinator) Wait() {
	<-c.done
}

// Err returns the joined component errors once shutdown is complete.
func (c *Coordinator) Err() error {
	<-c.done
	return c.err
}

// ExitCode returns 0 after a clean shutdown and 1 if any component failed or
// the deadline passed.
func (c *Coordinator) ExitCode() int {
	<-c.done
	return c.exitCode
}
