package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	// Model operations
	router.HandleFunc("/models/{model}", h.HandleRegisterModel).Methods("POST")
	router.HandleFunc("/models/{model}/indexes", h.HandleGetIndexes).Methods("GET")

	// Document operations
	router.HandleFunc("/models/{model}/documents", h.HandleSave).Methods("POST")
	router.HandleFunc("/models/{model}/documents/{id}", h.HandleGetById).Methods("GET")
	router.HandleFunc("/models/{model}/documents/{id}", h.HandleSave).Methods("PUT")
	router.HandleFunc("/models/{model}/documents/{id}", h.HandleDeleteById).Methods("DELETE")
	router.HandleFunc("/models/{model}/reindex", h.HandleReindex).Methods("POST")

	// Index lookups
	router.HandleFunc("/models/{model}/find/{index}", h.HandleFindBy).Methods("GET")

	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
}
