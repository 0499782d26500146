package session

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tolelom/tolchain-testkit/service"
)

func init() {
	service.Register(sessionService{})
}

// sessionService exposes read-only lookups over game sessions.
type sessionService struct{}

func (sessionService) Name() string { return "session" }

func (sessionService) WirePublic(mux *http.ServeMux, deps service.Deps) {
	mux.HandleFunc("/v1/session/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/session/")
		if id == "" {
			service.WriteError(w, http.StatusBadRequest, "session id required")
			return
		}
		s, err := deps.State.GetSession(id)
		if err != nil {
			service.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		service.WriteJSON(w, http.StatusOK, s)
	})

	mux.HandleFunc("/v1/sessions-by-player/", func(w http.ResponseWriter, r *http.Request) {
		player := strings.TrimPrefix(r.URL.Path, "/v1/sessions-by-player/")
		if player == "" || deps.Indexer == nil {
			service.WriteJSON(w, http.StatusOK, json.RawMessage(`[]`))
			return
		}
		ids, err := deps.Indexer.GetSessionsByPlayer(player)
		if err != nil {
			service.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		service.WriteJSON(w, http.StatusOK, ids)
	})
}

func (sessionService) WirePrivate(mux *http.ServeMux, deps service.Deps) {}
