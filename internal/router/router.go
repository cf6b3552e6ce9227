package router

import (
	"context"
	"fmt"
	"sort"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/protocol"
)

// HandlerFunc processes one inbound event for one connection
type HandlerFunc func(ctx context.Context, conn interfaces.Connection, env protocol.Envelope) error

// Middleware wraps every handler; the first registered runs outermost
type Middleware func(event string, next HandlerFunc) HandlerFunc

// Router maps event names to handlers
// ARCHITECTURAL DISCOVERY: An explicit table built once at startup replaces
// annotation-driven binding; dispatch is a map lookup with no reflection
type Router struct {
	handlers   map[string]HandlerFunc
	middleware []Middleware
}

// NewRouter creates an empty event table
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Use appends middleware applied to handlers registered afterwards
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Handle registers h for event. Registering an event twice is a programming
// error and panics, like http.ServeMux.
func (r *Router) Handle(event string, h HandlerFunc) {
	if event == "" || h == nil {
		panic("router: empty event or nil handler")
	}
	if _, exists := r.handlers[event]; exists {
		panic(fmt.Sprintf("router: duplicate handler for %q", event))
	}
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](event, h)
	}
	r.handlers[event] = h
}

// Route runs the handler registered for env.Event
func (r *Router) Route(ctx context.Context, conn interfaces.Connection, env protocol.Envelope) error {
	h, ok := r.handlers[env.Event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return h(ctx, conn, env)
}

// Events lists the registered event names in sorted order
func (r *Router) Events() []string {
	events := make([]string, 0, len(r.handlers))
	for event := range r.handlers {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}
