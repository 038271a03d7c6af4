package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"asset-indexer/internal/indexer"
	"asset-indexer/internal/logging"
)

const maxAuditEvents = 1000

// TriggerRescan queues an immediate scan of one storage.
func (h *Handlers) TriggerRescan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	realm, storage := vars["realm"], vars["storage"]
	if err := validNames(realm, storage); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.indexer.Rescan(realm, storage); err != nil {
		if errors.Is(err, indexer.ErrUnknownStorage) {
			writeJSONError(w, "Unknown storage", http.StatusNotFound)
			return
		}
		logging.Error("Failed to queue rescan of %s/%s: %v", realm, storage, err)
		writeJSONError(w, "Failed to queue rescan", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, "queued", http.StatusAccepted)
}

// TriggerIndexReset rebuilds every realm index in the background.
func (h *Handlers) TriggerIndexReset(w http.ResponseWriter, _ *http.Request) {
	if err := h.indexer.StartResetAll(); err != nil {
		if errors.Is(err, indexer.ErrResetInProgress) {
			writeJSONError(w, "Index reset already in progress", http.StatusConflict)
			return
		}
		writeJSONError(w, "Failed to start index reset", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, "started", http.StatusAccepted)
}

// ResetStorage wipes the catalogue of one storage.
func (h *Handlers) ResetStorage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	realm, storage := vars["realm"], vars["storage"]
	if err := validNames(realm, storage); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	n, err := h.indexer.ResetStorage(r.Context(), realm, storage)
	if err != nil {
		logging.Error("Failed to reset %s/%s: %v", realm, storage, err)
		writeJSONError(w, "Failed to reset storage", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"realm":   realm,
		"storage": storage,
		"removed": n,
	}, http.StatusOK)
}

// ClaimItem is the JSON form of a pending activity.
type ClaimItem struct {
	ID               int64     `json:"id"`
	HashPath         string    `json:"hashPath"`
	Realm            string    `json:"realm"`
	Storage          string    `json:"storage"`
	Path             string    `json:"path"`
	Handler          string    `json:"handler"`
	Event            string    `json:"event"`
	PreviousHandlers string    `json:"previousHandlers"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	WorkerHost       string    `json:"workerHost"`
	WorkerPID        int       `json:"workerPid"`
}

// ListClaims returns the pending activities, optionally of one realm.
func (h *Handlers) ListClaims(w http.ResponseWriter, r *http.Request) {
	realm := r.URL.Query().Get("realm")
	if realm != "" {
		if err := validNames(realm, ""); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	claims, err := h.db.ListClaims(r.Context(), realm)
	if err != nil {
		logging.Error("Failed to list claims: %v", err)
		writeJSONError(w, "Failed to list claims", http.StatusInternalServerError)
		return
	}

	items := make([]ClaimItem, 0, len(claims))
	for _, c := range claims {
		items = append(items, ClaimItem{
			ID:               c.ID,
			HashPath:         c.File.HashPath,
			Realm:            c.File.Realm,
			Storage:          c.File.Storage,
			Path:             c.File.Path,
			Handler:          c.HandlerName,
			Event:            string(c.EventType),
			PreviousHandlers: c.PreviousHandlers,
			CreatedAt:        c.CreatedAt,
			UpdatedAt:        c.UpdatedAt,
			WorkerHost:       c.WorkerHost,
			WorkerPID:        c.WorkerPID,
		})
	}
	writeJSONResponse(w, map[string]interface{}{"claims": items}, http.StatusOK)
}

// AuditItem is the JSON form of an audit event.
type AuditItem struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	Issuer          string    `json:"issuer"`
	Event           string    `json:"event"`
	ObjectType      string    `json:"objectType"`
	ObjectReference string    `json:"objectReference"`
	ObjectPayload   string    `json:"objectPayload,omitempty"`
	ScanID          string    `json:"scanId,omitempty"`
}

// ListAuditEvents returns the latest audit events of a realm.
func (h *Handlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	realm := mux.Vars(r)["realm"]
	if err := validNames(realm, ""); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit = capLimit(limit, maxAuditEvents)

	events, err := h.db.AuditEvents(r.Context(), realm, limit)
	if err != nil {
		logging.Error("Failed to list audit events of %s: %v", realm, err)
		writeJSONError(w, "Failed to list audit events", http.StatusInternalServerError)
		return
	}

	items := make([]AuditItem, 0, len(events))
	for _, e := range events {
		items = append(items, AuditItem{
			ID:              e.ID,
			CreatedAt:       e.CreatedAt,
			Issuer:          e.Issuer,
			Event:           e.Event,
			ObjectType:      e.ObjectType,
			ObjectReference: e.ObjectReference,
			ObjectPayload:   e.ObjectPayload,
			ScanID:          e.ScanID,
		})
	}
	writeJSONResponse(w, map[string]interface{}{"realm": realm, "events": items}, http.StatusOK)
}
