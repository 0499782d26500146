package market

import (
	"net/http"
	"strings"

	"github.com/tolelom/tolchain-testkit/service"
)

func init() {
	service.Register(marketService{})
}

// marketService exposes read-only lookups over market listings.
type marketService struct{}

func (marketService) Name() string { return "market" }

func (marketService) WirePublic(mux *http.ServeMux, deps service.Deps) {
	mux.HandleFunc("/v1/listing/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/listing/")
		if id == "" {
			service.WriteError(w, http.StatusBadRequest, "listing id required")
			return
		}
		l, err := deps.State.GetListing(id)
		if err != nil {
			service.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		service.WriteJSON(w, http.StatusOK, l)
	})
}

func (marketService) WirePrivate(mux *http.ServeMux, deps service.Deps) {}
