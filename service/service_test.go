package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type echoService struct{ name string }

func (s echoService) Name() string { return s.name }

func (s echoService) WirePublic(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"pong": s.name})
	})
}

func (s echoService) WirePrivate(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/secret", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"secret": s.name})
	})
}

func TestRegisterAndLookup(t *testing.T) {
	name := "echo-test-register"
	Register(echoService{name: name})

	svc, ok := Lookup(name)
	if !ok {
		t.Fatalf("expected %q to be registered", name)
	}
	if svc.Name() != name {
		t.Errorf("Name(): got %q want %q", svc.Name(), name)
	}

	found := false
	for _, s := range All() {
		if s.Name() == name {
			found = true
		}
	}
	if !found {
		t.Error("registered service missing from All()")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	name := "echo-test-duplicate"
	Register(echoService{name: name})

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on duplicate registration")
		}
	}()
	Register(echoService{name: name})
}

func TestWireJSONHelpers(t *testing.T) {
	svc := echoService{name: "echo-test-wire"}
	mux := http.NewServeMux()
	svc.WirePublic(mux, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type: got %q want application/json", ct)
	}
}
