package economy

import (
	"net/http"
	"strings"

	"github.com/tolelom/tolchain-testkit/service"
)

func init() {
	service.Register(economyService{})
}

// economyService exposes read-only balance lookups over the account state
// the transfer handler writes.
type economyService struct{}

func (economyService) Name() string { return "economy" }

func (economyService) WirePublic(mux *http.ServeMux, deps service.Deps) {
	mux.HandleFunc("/v1/balance/", func(w http.ResponseWriter, r *http.Request) {
		address := strings.TrimPrefix(r.URL.Path, "/v1/balance/")
		if address == "" {
			service.WriteError(w, http.StatusBadRequest, "address required")
			return
		}
		acc, err := deps.State.GetAccount(address)
		if err != nil {
			service.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		service.WriteJSON(w, http.StatusOK, acc)
	})
}

func (economyService) WirePrivate(mux *http.ServeMux, deps service.Deps) {}
