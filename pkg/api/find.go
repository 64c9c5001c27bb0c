package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

// HandleFindBy handles GET /models/{model}/find/{index}?value=...[&one=true]
func (h *Handler) HandleFindBy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName := vars["model"]
	index := vars["index"]
	query := r.URL.Query()

	h.log.Info("handleFindBy called", "model", modelName, "index", index)

	if !query.Has("value") {
		WriteJSONError(w, http.StatusBadRequest, "Missing value query parameter")
		return
	}
	value := query.Get("value")
	one, _ := strconv.ParseBool(query.Get("one"))

	model, err := h.client.Registered(modelName)
	if err != nil {
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}

	if one {
		doc, found, err := model.FindOneBy(r.Context(), index, value)
		if err != nil {
			h.log.Error("findOneBy failed", "model", modelName, "index", index, "error", err)
			WriteJSONError(w, StatusFor(err), err.Error())
			return
		}
		if !found {
			WriteJSONError(w, http.StatusNotFound, "No document matches")
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	docs, err := model.FindBy(r.Context(), index, value)
	if err != nil {
		h.log.Error("findBy failed", "model", modelName, "index", index, "error", err)
		WriteJSONError(w, StatusFor(err), err.Error())
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}

	h.log.Info("found documents", "model", modelName, "index", index, "count", len(docs))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}
