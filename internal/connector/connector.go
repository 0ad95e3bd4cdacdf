// Package connector defines the capability interface that enrichment,
// action, and notification steps invoke (spec §9 "connectors as capability
// interface"). Concrete connectors (VirusTotal, firewall, Slack, ...) are
// out of scope; this package only fixes the boundary and a registry.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Invocation is a single connector call, fully resolved by the time the
// engine issues it: no further variable resolution happens on the other
// side of this boundary.
type Invocation struct {
	ConnectorID string
	ActionType  string
	Inputs      map[string]any
	Deadline    time.Time
}

// Result is a connector's response to an Invocation.
type Result struct {
	Output map[string]any
}

// Connector is the opaque capability interface every concrete integration
// (VirusTotal, a firewall, Slack, ...) implements. Invoke must honor
// ctx's deadline; the engine derives ctx from Invocation.Deadline.
type Connector interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// Registry resolves a connector_id to a Connector at dispatch time. Safe
// for concurrent use: executions run concurrently and each looks up its
// connectors independently.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register binds id to c, replacing any existing binding. Intended for
// boot-time wiring; not a hot-reload mechanism.
func (r *Registry) Register(id string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[id] = c
}

// ErrUnknownConnector is returned by Invoke when no connector is registered
// under the requested id.
type ErrUnknownConnector struct {
	ConnectorID string
}

func (e *ErrUnknownConnector) Error() string {
	return fmt.Sprintf("connector: unknown connector_id %q", e.ConnectorID)
}

// Invoke looks up inv.ConnectorID and dispatches to it, deriving a
// deadline-scoped context from inv.Deadline when set.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	r.mu.RLock()
	c, ok := r.connectors[inv.ConnectorID]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &ErrUnknownConnector{ConnectorID: inv.ConnectorID}
	}

	if !inv.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, inv.Deadline)
		defer cancel()
	}

	return c.Invoke(ctx, inv)
}
