package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/database"
	"asset-indexer/internal/logging"
)

// RealmListResponse lists the catalogued realms.
type RealmListResponse struct {
	Realms []string `json:"realms"`
}

// StorageListResponse lists the catalogued storages of a realm.
type StorageListResponse struct {
	Realm    string   `json:"realm"`
	Storages []string `json:"storages"`
}

// ListResponse is one page of a directory listing.
type ListResponse struct {
	Realm   string    `json:"realm"`
	Storage string    `json:"storage"`
	Current *FileItem `json:"current,omitempty"`
	// Path is the listed directory, empty when nothing is known about it.
	Path           string     `json:"path,omitempty"`
	ParentHashPath string     `json:"parentHashPath"`
	ListSize       int        `json:"listSize"`
	Skip           int        `json:"skip"`
	Total          int        `json:"total"`
	Sort           string     `json:"sort"`
	Order          string     `json:"order"`
	Items          []FileItem `json:"items"`
}

// ListRealms returns the realms present in the catalogue.
func (h *Handlers) ListRealms(w http.ResponseWriter, r *http.Request) {
	realms, err := h.db.Realms(r.Context())
	if err != nil {
		logging.Error("Failed to list realms: %v", err)
		writeJSONError(w, "Failed to list realms", http.StatusInternalServerError)
		return
	}
	if realms == nil {
		realms = []string{}
	}
	writeJSONResponse(w, RealmListResponse{Realms: realms}, http.StatusOK)
}

// ListStorages returns the storages of one realm.
func (h *Handlers) ListStorages(w http.ResponseWriter, r *http.Request) {
	realm := mux.Vars(r)["realm"]
	if err := validNames(realm, ""); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	storages, err := h.db.Storages(r.Context(), realm)
	if err != nil {
		logging.Error("Failed to list storages of %s: %v", realm, err)
		writeJSONError(w, "Failed to list storages", http.StatusInternalServerError)
		return
	}
	if storages == nil {
		storages = []string{}
	}
	writeJSONResponse(w, StorageListResponse{Realm: realm, Storages: storages}, http.StatusOK)
}

// ListDirectory returns the children of a directory, identified by its hash
// path or the storage root when none is given.
func (h *Handlers) ListDirectory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	realm, storage := vars["realm"], vars["storage"]
	if err := validNames(realm, storage); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash := strings.ToLower(vars["hashPath"])
	if hash == "" {
		var err error
		if hash, err = catalogue.HashPath(realm, storage, catalogue.RootPath); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	q := r.URL.Query()
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sortField, order, err := catalogue.ParseSort(q.Get("sort"), q.Get("order"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := catalogue.ListOptions{
		Skip:  skip,
		Limit: capLimit(limit, h.limits.DirListMaxSize),
		Sort:  sortField,
		Order: order,
	}

	var current *catalogue.FileRecord
	rec, err := h.db.GetByHash(r.Context(), hash)
	switch {
	case err == nil:
		if rec.Realm != realm || rec.Storage != storage {
			writeJSONError(w, "Not found", http.StatusNotFound)
			return
		}
		current = &rec
	case !errors.Is(err, database.ErrNotFound):
		logging.Error("Failed to load %s: %v", hash, err)
		writeJSONError(w, "Failed to list directory", http.StatusInternalServerError)
		return
	}

	records, total, err := h.db.ListByParent(r.Context(), hash, opts)
	if err != nil {
		logging.Error("Failed to list children of %s: %v", hash, err)
		writeJSONError(w, "Failed to list directory", http.StatusInternalServerError)
		return
	}

	resp := ListResponse{
		Realm:    realm,
		Storage:  storage,
		ListSize: len(records),
		Skip:     skip,
		Total:    total,
		Sort:     string(opts.Sort),
		Order:    string(opts.Order),
		Items:    make([]FileItem, 0, len(records)),
	}
	for _, rec := range records {
		resp.Items = append(resp.Items, newFileItem(rec))
	}

	switch {
	case len(records) > 0:
		resp.Path = records[0].ParentPath()
	case current != nil:
		resp.Path = current.Path
	}
	if current != nil {
		item := newFileItem(*current)
		resp.Current = &item
	}

	parent := catalogue.RootPath
	if resp.Path != "" {
		parent = catalogue.ParentPath(resp.Path)
	}
	if resp.ParentHashPath, err = catalogue.HashPath(realm, storage, parent); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSONResponse(w, resp, http.StatusOK)
}
