package server

import (
	"encoding/json"
	"net/http"

	"resonate/config"
	"resonate/queue"
	"resonate/repository"
	"resonate/storage"
)

// APIHandler handles all ingestion API requests.
type APIHandler struct {
	assetRepo repository.AssetRepository
	store     storage.ArtifactStore
	jobs      *queue.Queue
	cfg       *config.Config
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	assetRepo repository.AssetRepository,
	store storage.ArtifactStore,
	jobs *queue.Queue,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		assetRepo: assetRepo,
		store:     store,
		jobs:      jobs,
		cfg:       cfg,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
