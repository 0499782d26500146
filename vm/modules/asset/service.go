package asset

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tolelom/tolchain-testkit/service"
)

func init() {
	service.Register(assetService{})
}

// assetService exposes read-only lookups over assets and templates.
type assetService struct{}

func (assetService) Name() string { return "asset" }

func (assetService) WirePublic(mux *http.ServeMux, deps service.Deps) {
	mux.HandleFunc("/v1/asset/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/asset/")
		if id == "" {
			service.WriteError(w, http.StatusBadRequest, "asset id required")
			return
		}
		a, err := deps.State.GetAsset(id)
		if err != nil {
			service.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		service.WriteJSON(w, http.StatusOK, a)
	})

	mux.HandleFunc("/v1/template/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/template/")
		if id == "" {
			service.WriteError(w, http.StatusBadRequest, "template id required")
			return
		}
		t, err := deps.State.GetTemplate(id)
		if err != nil {
			service.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		service.WriteJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("/v1/assets-by-owner/", func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimPrefix(r.URL.Path, "/v1/assets-by-owner/")
		if owner == "" || deps.Indexer == nil {
			service.WriteJSON(w, http.StatusOK, json.RawMessage(`[]`))
			return
		}
		ids, err := deps.Indexer.GetAssetsByOwner(owner)
		if err != nil {
			service.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		service.WriteJSON(w, http.StatusOK, ids)
	})
}

func (assetService) WirePrivate(mux *http.ServeMux, deps service.Deps) {}
