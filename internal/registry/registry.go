// Package registry implements the Node Registry: an immutable
// collection of executors keyed by node identity, built once at
// startup from a contract set and a handler-binding table.
//
// Grounded on cellorg's public/orchestrator (startup-time wiring of
// multiple named components from a declarative set) generalized into a
// binding-table + dependency-graph build step, since the teacher's own
// orchestrator wires a fixed roster rather than a pluggable binding table.
package registry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/onex/noderuntime/internal/contract"
	"github.com/onex/noderuntime/internal/executor"
	"github.com/onex/noderuntime/internal/handler"
)

// OnMissing is the behavior the registry applies when a contract's
// protocol kind has no entry in the handler binding table.
type OnMissing string

const (
	SkipSilently OnMissing = "skip_silently"
	WarnAndSkip  OnMissing = "warn_and_skip" // default
	Degrade      OnMissing = "degrade"
	ErrorOut     OnMissing = "error"
)

// HandlerFactory builds a fresh handler instance for one protocol kind.
// The registry calls it at most once per distinct (protocol kind,
// connection) pairing seen across the contract set, then shares the
// resulting handler across every contract with that same pairing.
type HandlerFactory func() handler.Handler

// Bindings maps a protocol kind to the factory that builds its handler,
// plus the on_missing behavior to apply when a contract needs a kind this
// binding table does not cover.
type Bindings struct {
	Factories map[contract.ProtocolKind]HandlerFactory
	OnMissing map[contract.ProtocolKind]OnMissing // defaults to WarnAndSkip
}

func (b Bindings) onMissingFor(kind contract.ProtocolKind) OnMissing {
	if m, ok := b.OnMissing[kind]; ok {
		return m
	}
	return WarnAndSkip
}

// MissingHandlerError reports a required handler kind with no factory.
type MissingHandlerError struct {
	NodeID       string
	ProtocolKind contract.ProtocolKind
}

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("registry: node %s requires handler kind %q, which is not bound", e.NodeID, e.ProtocolKind)
}

// CycleError reports a dependency cycle discovered while building the
// node dependency graph.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("registry: dependency cycle detected: %v", e.Cycle)
}

// connKey identifies one distinct (protocol kind, connection) pairing so
// Init is called at most once per pairing. The key covers the kind, url,
// host, port, database and broker list; timeouts, pool bounds, TLS and
// auth are not part of it, so contracts that differ only in those share
// the handler built for the first of them.
type connKey struct {
	kind    contract.ProtocolKind
	url     string
	host    string
	port    int
	db      string
	brokers string
}

func keyFor(c *contract.Contract) connKey {
	return connKey{
		kind:    c.ProtocolKind,
		url:     c.Connection.URL,
		host:    c.Connection.Host,
		port:    c.Connection.Port,
		db:      c.Connection.Database,
		brokers: strings.Join(c.Connection.Brokers, ","),
	}
}

// Registry is the immutable, built registry of executors.
type Registry struct {
	executors map[string]*executor.Executor
	degraded  map[string]bool // node_id -> degrade-on-missing-handler
	order     []string
}

// Build constructs a Registry from a contract set and handler bindings.
// resolveConnection resolves a contract's Connection into the bound
// "config." scope (after ${ENV_VAR} substitution); env is the process
// environment bound as "env.". A handler's Init is called exactly once
// per distinct (protocol kind, connection) pairing, the moment that
// pairing's handler is first constructed; a failing Init is a startup
// failure, same as a missing required handler.
func Build(ctx context.Context, contracts []*contract.Contract, b Bindings, env map[string]string, resolveConnection func(*contract.Contract) map[string]interface{}) (*Registry, error) {
	if err := checkAcyclic(contracts); err != nil {
		return nil, err
	}

	handlers := make(map[connKey]handler.Handler)
	reg := &Registry{
		executors: make(map[string]*executor.Executor, len(contracts)),
		degraded:  make(map[string]bool),
	}

	for _, c := range contracts {
		key := keyFor(c)
		h, ok := handlers[key]
		if !ok {
			factory, ok := b.Factories[c.ProtocolKind]
			if !ok {
				switch b.onMissingFor(c.ProtocolKind) {
				case SkipSilently:
					continue
				case WarnAndSkip:
					log.Printf("registry: skipping node %s: no handler bound for protocol kind %q", c.NodeID, c.ProtocolKind)
					continue
				case Degrade:
					reg.degraded[c.NodeID] = true
					continue
				case ErrorOut:
					return nil, &MissingHandlerError{NodeID: c.NodeID, ProtocolKind: c.ProtocolKind}
				default:
					continue
				}
			}
			h = factory()
			if err := h.Init(ctx, c.Connection); err != nil {
				return nil, fmt.Errorf("registry: init handler for node %s: %w", c.NodeID, err)
			}
			handlers[key] = h
		}

		resolvedConn := resolveConnection(c)
		ex := executor.New(c, h, resolvedConn, env)
		reg.executors[c.NodeID] = ex
		reg.order = append(reg.order, c.NodeID)
	}

	sort.Strings(reg.order)
	return reg, nil
}

// Get looks up an executor by node id.
func (r *Registry) Get(nodeID string) (*executor.Executor, bool) {
	ex, ok := r.executors[nodeID]
	return ex, ok
}

// Iter returns every registered executor in deterministic (sorted)
// node-id order.
func (r *Registry) Iter() []*executor.Executor {
	out := make([]*executor.Executor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.executors[id])
	}
	return out
}

// Degraded reports whether a node was recorded as degraded because its
// handler kind was missing and its on_missing policy is "degrade". Such a
// node has no executor in the registry.
func (r *Registry) Degraded(nodeID string) bool {
	return r.degraded[nodeID]
}

// checkAcyclic walks the dependency graph (node -> Dependencies) and
// reports the first cycle found, with the cycle's node ids in order.
func checkAcyclic(contracts []*contract.Contract) error {
	byID := make(map[string]*contract.Contract, len(contracts))
	for _, c := range contracts {
		byID[c.NodeID] = c
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(contracts))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			return &CycleError{Cycle: append(append([]string{}, path[cycleStart:]...), id)}
		}
		state[id] = visiting
		path = append(path, id)
		c, ok := byID[id]
		if ok {
			for _, dep := range c.Dependencies {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	ids := make([]string, 0, len(contracts))
	for _, c := range contracts {
		ids = append(ids, c.NodeID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
