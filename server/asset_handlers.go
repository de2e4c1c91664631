package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"resonate/logger"
	"resonate/model"
	"resonate/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// createAssetRequest is the upload-completion notification. The caller has
// already stored the original file and tells us where it landed. Either an
// existing trackId or inline track metadata must be given.
type createAssetRequest struct {
	TrackID     uint64 `json:"trackId"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	OriginalRef string `json:"originalRef"`
}

// CreateAssetHandler registers an uploaded original and queues it for
// processing. POST /api/assets
func (h *APIHandler) CreateAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.OriginalRef = strings.TrimSpace(req.OriginalRef)
	if req.OriginalRef == "" {
		respondError(w, http.StatusBadRequest, "originalRef is required")
		return
	}
	if req.TrackID == 0 && strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "Either trackId or title is required")
		return
	}

	// The asset must never point at an object that is not durably stored.
	obj, err := h.store.Get(r.Context(), req.OriginalRef)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Original file not found in storage")
		return
	}
	obj.Close()

	asset := &model.AudioAsset{
		PublicID:    uuid.NewString(),
		TrackID:     req.TrackID,
		Status:      model.StatusPending,
		OriginalRef: req.OriginalRef,
	}

	var track *model.Track
	if req.TrackID == 0 {
		track = &model.Track{
			Title:  strings.TrimSpace(req.Title),
			Artist: strings.TrimSpace(req.Artist),
			Album:  strings.TrimSpace(req.Album),
		}
	}

	if err := h.assetRepo.CreateWithTrack(track, asset); err != nil {
		logger.Error("Failed to create audio asset", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Failed to create audio asset")
		return
	}

	if err := h.jobs.Enqueue(r.Context(), asset.PublicID); err != nil {
		// The asset row exists; the watchdog picks up assets that never made
		// it onto the queue once their heartbeat window passes, and the
		// process endpoint allows manual re-triggering.
		logger.Error("Failed to enqueue processing job",
			logger.String("assetId", asset.PublicID),
			logger.ErrorField(err))
	}

	logger.Info("Audio asset registered",
		logger.String("assetId", asset.PublicID),
		logger.Uint64("trackId", asset.TrackID),
		logger.String("originalRef", asset.OriginalRef))

	respondJSON(w, http.StatusCreated, asset)
}

// ProcessAssetHandler re-enqueues an asset for processing. This is the retry
// trigger for FAILED assets; PENDING and stuck PROCESSING assets may be
// nudged with it too. POST /api/assets/{id}/process
func (h *APIHandler) ProcessAssetHandler(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["id"]

	asset, err := h.assetRepo.GetByPublicID(publicID)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			respondError(w, http.StatusNotFound, "Audio asset not found")
			return
		}
		logger.Error("Failed to load audio asset", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Failed to load audio asset")
		return
	}

	if asset.Status == model.StatusCompleted {
		respondError(w, http.StatusConflict, "Audio asset is already completed")
		return
	}

	if err := h.jobs.Enqueue(r.Context(), asset.PublicID); err != nil {
		logger.Error("Failed to enqueue processing job", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Failed to enqueue processing job")
		return
	}

	logger.Info("Processing re-triggered",
		logger.String("assetId", asset.PublicID),
		logger.String("status", string(asset.Status)))

	respondJSON(w, http.StatusAccepted, map[string]string{
		"assetId": asset.PublicID,
		"status":  string(asset.Status),
		"message": "Processing queued",
	})
}

// GetAssetHandler returns status, technical metadata and renditions.
// GET /api/assets/{id}
func (h *APIHandler) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["id"]

	asset, err := h.assetRepo.GetByPublicID(publicID)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			respondError(w, http.StatusNotFound, "Audio asset not found")
			return
		}
		logger.Error("Failed to load audio asset", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Failed to load audio asset")
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

// StreamAssetHandler hands out a presigned URL for the master manifest. The
// manifest only exists for COMPLETED assets; anything else is a 404 so
// callers cannot distinguish unfinished from missing.
// GET /api/assets/{id}/stream
func (h *APIHandler) StreamAssetHandler(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["id"]

	asset, err := h.assetRepo.GetByPublicID(publicID)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			respondError(w, http.StatusNotFound, "Audio asset not found")
			return
		}
		logger.Error("Failed to load audio asset", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Failed to load audio asset")
		return
	}

	if asset.Status != model.StatusCompleted || asset.ManifestRef == nil {
		respondError(w, http.StatusNotFound, "No stream available for this asset")
		return
	}

	url, err := h.store.PresignedURL(r.Context(), *asset.ManifestRef, h.cfg.SignedURLTTL)
	if err != nil {
		logger.Error("Failed to presign manifest URL",
			logger.String("assetId", publicID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Failed to create stream URL")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"url":       url,
		"expiresIn": int(h.cfg.SignedURLTTL.Seconds()),
	})
}

// PublishAssetHandler flips the visibility flag. POST /api/assets/{id}/publish
func (h *APIHandler) PublishAssetHandler(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["id"]

	if err := h.assetRepo.Publish(publicID); err != nil {
		switch {
		case errors.Is(err, repository.ErrAssetNotFound):
			respondError(w, http.StatusNotFound, "Audio asset not found")
		case errors.Is(err, repository.ErrNotCompleted):
			respondError(w, http.StatusConflict, "Audio asset is not completed")
		default:
			logger.Error("Failed to publish audio asset", logger.ErrorField(err))
			respondError(w, http.StatusInternalServerError, "Failed to publish audio asset")
		}
		return
	}

	logger.Info("Audio asset published", logger.String("assetId", publicID))
	respondJSON(w, http.StatusOK, map[string]string{
		"assetId": publicID,
		"message": "Published",
	})
}
