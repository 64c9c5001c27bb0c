package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adfharrison1/go-odm/pkg/odm"
	"github.com/adfharrison1/go-odm/pkg/schema"
)

// HandleRegisterModel handles POST requests registering a model schema
func (h *Handler) HandleRegisterModel(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["model"]

	h.log.Info("handleRegisterModel called", "model", modelName)

	var s schema.Schema
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		h.log.Error("decoding body failed", "error", err)
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	model, err := h.client.Model(modelName, &s)
	if err != nil {
		h.log.Error("model registration failed", "model", modelName, "error", err)
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}
	indexes, err := model.Indexes()
	if err != nil {
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	h.log.Info("model registered", "model", modelName, "index_count", len(indexes))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"model":   modelName,
		"indexes": indexes,
	})
}

// HandleGetIndexes handles GET requests to retrieve the indexes of a model
func (h *Handler) HandleGetIndexes(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["model"]

	h.log.Info("handleGetIndexes called", "model", modelName)

	model, err := h.client.Registered(modelName)
	if err != nil {
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}
	indexes, err := model.Indexes()
	if err != nil {
		h.log.Error("failed to get indexes", "model", modelName, "error", err)
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	finders := make([]string, 0, len(indexes))
	for _, spec := range indexes {
		finders = append(finders, odm.FinderName(spec.IndexName))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"model":       modelName,
		"indexes":     indexes,
		"finders":     finders,
		"index_count": len(indexes),
	})
	h.log.Info("retrieved indexes", "model", modelName, "index_count", len(indexes))
}
