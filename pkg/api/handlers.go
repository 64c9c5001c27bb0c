package api

import (
	"log/slog"

	"github.com/adfharrison1/go-odm/pkg/logger"
	"github.com/adfharrison1/go-odm/pkg/odm"
)

// Handler provides HTTP handlers for the ODM API
type Handler struct {
	client *odm.Client
	log    *slog.Logger
}

// NewHandler creates a new API handler with dependency injection
func NewHandler(client *odm.Client, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		client: client,
		log:    log,
	}
}
