package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

// HandleSave handles POST (create) and PUT (save under id) requests
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName := vars["model"]
	docId := vars["id"]

	h.log.Info("handleSave called", "model", modelName, "id", docId)

	model, err := h.client.Registered(modelName)
	if err != nil {
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	var doc domain.Document
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		h.log.Error("decoding body failed", "error", err)
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for k, v := range doc {
		doc[k] = exactNumbers(v)
	}
	if docId != "" {
		s, err := model.Schema()
		if err != nil {
			WriteJSONError(w, StatusFor(err), err.Error())
			return
		}
		if doc == nil {
			doc = domain.Document{}
		}
		doc[s.KeyField()] = docId
	}

	saved, err := model.Save(r.Context(), doc)
	var psf *domain.PartialSyncFailure
	if errors.As(err, &psf) {
		h.log.Warn("save completed with index failures", "model", modelName, "id", psf.OwnerKey, "failures", len(psf.Failed))
		writeJSON(w, http.StatusMultiStatus, map[string]interface{}{
			"success":  false,
			"document": saved,
			"failures": syncFailures(psf),
		})
		return
	}
	if err != nil {
		h.log.Error("save failed", "model", modelName, "error", err)
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	status := http.StatusCreated
	if r.Method == http.MethodPut {
		status = http.StatusOK
	}
	h.log.Info("save successful", "model", modelName)
	writeJSON(w, status, saved)
}

// HandleGetById handles GET requests to retrieve a specific document by ID
func (h *Handler) HandleGetById(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName := vars["model"]
	docId := vars["id"]

	h.log.Info("handleGetById called", "model", modelName, "id", docId)

	model, err := h.client.Registered(modelName)
	if err != nil {
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}
	doc, err := model.Get(r.Context(), docId)
	if err != nil {
		h.log.Error("get failed", "model", modelName, "id", docId, "error", err)
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// HandleDeleteById handles DELETE requests to remove a specific document by ID
func (h *Handler) HandleDeleteById(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName := vars["model"]
	docId := vars["id"]

	h.log.Info("handleDeleteById called", "model", modelName, "id", docId)

	model, err := h.client.Registered(modelName)
	if err != nil {
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	err = model.Remove(r.Context(), docId)
	var psf *domain.PartialSyncFailure
	if errors.As(err, &psf) {
		h.log.Warn("delete completed with index failures", "model", modelName, "id", docId, "failures", len(psf.Failed))
		writeJSON(w, http.StatusMultiStatus, map[string]interface{}{
			"success":  false,
			"failures": syncFailures(psf),
		})
		return
	}
	if err != nil {
		h.log.Error("delete failed", "model", modelName, "id", docId, "error", err)
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	h.log.Info("delete successful", "model", modelName, "id", docId)
	w.WriteHeader(http.StatusNoContent)
}

// ReindexRequest lists the documents whose reference documents are rebuilt
type ReindexRequest struct {
	IDs []string `json:"ids"`
}

// HandleReindex handles POST requests rebuilding reference documents
func (h *Handler) HandleReindex(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["model"]

	h.log.Info("handleReindex called", "model", modelName)

	model, err := h.client.Registered(modelName)
	if err != nil {
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}
	var req ReindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		WriteJSONError(w, http.StatusBadRequest, "Request body must list ids")
		return
	}

	res, err := model.Reindex(r.Context(), req.IDs...)
	if err != nil {
		h.log.Error("reindex failed", "model", modelName, "error", err)
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"added":   res.Added,
		"removed": res.Removed,
	})
}

// exactNumbers turns json.Number values into int64 when they are
// integral and fit, float64 otherwise, so large integers keep every digit.
func exactNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, e := range t {
			t[k] = exactNumbers(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = exactNumbers(e)
		}
		return t
	}
	return v
}
