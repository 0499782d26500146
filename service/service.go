// Package service defines the HTTP read-surface that a VM module can expose
// alongside its transaction handlers, and the registry the test harness's
// API façade mounts them through.
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/tolelom/tolchain-testkit/core"
	"github.com/tolelom/tolchain-testkit/indexer"
)

// Deps are the collaborators a Service needs to answer read queries.
// State is always a snapshot of the most recently committed world state;
// Indexer resolves the secondary owner/player lookups.
type Deps struct {
	State   core.State
	Indexer *indexer.Indexer
}

// Service is the HTTP-facing counterpart to a vm.Handler: it exposes
// read-only routes over the state a module's transactions write. Mutating
// the chain happens only through transactions dispatched via vm.Registry;
// a Service must never accept writes.
type Service interface {
	// Name identifies the service; routes are mounted under this name
	// by ApiKind.Service in the testkit API façade.
	Name() string
	// WirePublic registers routes available to any client.
	WirePublic(mux *http.ServeMux, deps Deps)
	// WirePrivate registers routes restricted to node operators.
	// Most services have nothing to add here and leave it empty.
	WirePrivate(mux *http.ServeMux, deps Deps)
}

var (
	mu       sync.RWMutex
	services = make(map[string]Service)
	order    []string
)

// Register adds svc to the global registry. Module init() functions call
// this to self-register, mirroring vm.Register. Panics on duplicate names.
func Register(svc Service) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := services[svc.Name()]; exists {
		panic("service: duplicate registration for " + svc.Name())
	}
	services[svc.Name()] = svc
	order = append(order, svc.Name())
}

// All returns every registered service in registration order.
func All() []Service {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Service, len(order))
	for i, name := range order {
		out[i] = services[name]
	}
	return out
}

// Lookup returns the service registered under name, if any.
func Lookup(name string) (Service, bool) {
	mu.RLock()
	defer mu.RUnlock()
	svc, ok := services[name]
	return svc, ok
}

// WriteJSON is a small helper services use to answer a GET with a JSON body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError answers a GET with a JSON error body.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
