package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/msgline/container"
)

// ErrNoHandler is returned when a container has no registered handler and no
// fallback is set.
var ErrNoHandler = errors.New("messaging: no handler for message type")

// MessageHandler processes a received container
type MessageHandler interface {
	Handle(ctx context.Context, c *container.Container) error
}

// MessageHandlerFunc is a function adapter for MessageHandler
type MessageHandlerFunc func(ctx context.Context, c *container.Container) error

// Handle implements MessageHandler
func (f MessageHandlerFunc) Handle(ctx context.Context, c *container.Container) error {
	return f(ctx, c)
}

// MiddlewareFunc wraps handler execution
type MiddlewareFunc func(ctx context.Context, c *container.Container, next MessageHandler) error

// Dispatcher routes containers to handlers by message type
type Dispatcher struct {
	handlers   map[string][]MessageHandler
	fallback   MessageHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	middleware []MiddlewareFunc
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMiddleware adds middleware to the dispatcher
func WithMiddleware(middleware ...MiddlewareFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// WithFallback sets the handler for message types nobody registered
func WithFallback(h MessageHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.fallback = h
	}
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]MessageHandler),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Register adds a handler for a message type. Several handlers may share a type.
func (d *Dispatcher) Register(messageType string, handler MessageHandler) error {
	if messageType == "" {
		return fmt.Errorf("messageType cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = append(d.handlers[messageType], handler)

	d.logger.Debug("registered message handler", "messageType", messageType)
	return nil
}

// RegisterFunc registers a function as a handler
func (d *Dispatcher) RegisterFunc(messageType string, handler MessageHandlerFunc) error {
	return d.Register(messageType, handler)
}

// Unregister removes every handler for a message type
func (d *Dispatcher) Unregister(messageType string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, messageType)
}

// Handle implements MessageHandler by dispatching
func (d *Dispatcher) Handle(ctx context.Context, c *container.Container) error {
	return d.Dispatch(ctx, c)
}

// Dispatch runs every handler registered for the container's message type
// concurrently and waits for them.
func (d *Dispatcher) Dispatch(ctx context.Context, c *container.Container) error {
	if c == nil {
		return fmt.Errorf("container cannot be nil")
	}
	messageType := c.MessageType()

	d.mu.RLock()
	handlers := append([]MessageHandler(nil), d.handlers[messageType]...)
	fallback := d.fallback
	d.mu.RUnlock()

	if len(handlers) == 0 {
		if fallback == nil {
			d.logger.Warn("unknown message", "messageType", messageType, "source", c.SourceID())
			return fmt.Errorf("%w: %q", ErrNoHandler, messageType)
		}
		handlers = []MessageHandler{fallback}
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))
	for _, h := range handlers {
		wg.Add(1)
		go func(h MessageHandler) {
			defer wg.Done()
			if err := d.buildMiddlewareChain(h).Handle(ctx, c); err != nil {
				d.logger.Error("handler failed", "messageType", messageType, "error", err)
				errChan <- err
			}
		}(h)
	}
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dispatch %q failed: %w", messageType, errors.Join(errs...))
	}
	return nil
}

// RegisteredTypes returns the message types with handlers, sorted
func (d *Dispatcher) RegisteredTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (d *Dispatcher) buildMiddlewareChain(handler MessageHandler) MessageHandler {
	result := handler
	for i := len(d.middleware) - 1; i >= 0; i-- {
		middleware := d.middleware[i]
		next := result
		result = MessageHandlerFunc(func(ctx context.Context, c *container.Container) error {
			return middleware(ctx, c, next)
		})
	}
	return result
}
