package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"asset-indexer/internal/logging"
	"asset-indexer/internal/search"
)

const (
	maxQueryLength     = 256
	maxConstraintsBody = 64 << 10
)

// ConstraintsRequest is the optional JSON body of a search. Tri-state
// fields accept "true", "false" or nothing.
type ConstraintsRequest struct {
	Directory      string     `json:"directory,omitempty"`
	Hidden         string     `json:"hidden,omitempty"`
	Link           string     `json:"link,omitempty"`
	Special        string     `json:"special,omitempty"`
	ModifiedFrom   *time.Time `json:"modifiedFrom,omitempty"`
	ModifiedTo     *time.Time `json:"modifiedTo,omitempty"`
	MinLength      *int64     `json:"minLength,omitempty"`
	MaxLength      *int64     `json:"maxLength,omitempty"`
	Storages       []string   `json:"storages,omitempty"`
	ParentPath     string     `json:"parentPath,omitempty"`
	ParentHashPath string     `json:"parentHashPath,omitempty"`
}

func (c ConstraintsRequest) toConstraints() (*search.Constraints, error) {
	out := &search.Constraints{
		ModifiedFrom:     c.ModifiedFrom,
		ModifiedTo:       c.ModifiedTo,
		MinLength:        c.MinLength,
		MaxLength:        c.MaxLength,
		Storages:         c.Storages,
		ParentPathPrefix: c.ParentPath,
		ParentHashPath:   strings.ToLower(c.ParentHashPath),
	}
	tris := []struct {
		raw string
		dst *search.Tri
	}{
		{c.Directory, &out.Directory},
		{c.Hidden, &out.Hidden},
		{c.Link, &out.Link},
		{c.Special, &out.Special},
	}
	for _, t := range tris {
		v, err := search.ParseTri(t.raw)
		if err != nil {
			return nil, err
		}
		*t.dst = v
	}
	if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
		return nil, errors.New("minLength is greater than maxLength")
	}
	if c.ModifiedFrom != nil && c.ModifiedTo != nil && c.ModifiedFrom.After(*c.ModifiedTo) {
		return nil, errors.New("modifiedFrom is after modifiedTo")
	}
	return out, nil
}

// SearchResponse is the answer to a search request.
type SearchResponse struct {
	Query        string              `json:"query"`
	Limit        int                 `json:"limit"`
	TotalMatched uint64              `json:"totalMatched"`
	Results      []search.Result     `json:"results"`
	Files        map[string]FileItem `json:"files,omitempty"`
	Constraints  *ConstraintsRequest `json:"constraints,omitempty"`
}

// Search runs a relevance query against one realm. Constraints may be sent
// as a JSON body; resolveHashPaths=1 adds the catalogue rows of the hits.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	realm := mux.Vars(r)["realm"]
	if err := validNames(realm, ""); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" || len(q) > maxQueryLength {
		writeJSONError(w, "q is required and limited to 256 characters", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit = capLimit(limit, h.limits.SearchResultMaxSize)

	resolve, err := queryInt(r, "resolveHashPaths", 0)
	if err != nil || resolve > 1 {
		writeJSONError(w, "resolveHashPaths must be 0 or 1", http.StatusBadRequest)
		return
	}

	var req *ConstraintsRequest
	var constraints *search.Constraints
	if r.Body != nil && r.Method != http.MethodGet {
		var body ConstraintsRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxConstraintsBody))
		dec.DisallowUnknownFields()
		switch err := dec.Decode(&body); {
		case errors.Is(err, io.EOF):
		case err != nil:
			writeJSONError(w, "Invalid constraints: "+err.Error(), http.StatusBadRequest)
			return
		default:
			if constraints, err = body.toConstraints(); err != nil {
				writeJSONError(w, "Invalid constraints: "+err.Error(), http.StatusBadRequest)
				return
			}
			req = &body
		}
	}

	results, err := h.search.Search(realm, q, constraints, limit)
	if err != nil {
		if errors.Is(err, search.ErrUnknownRealm) {
			writeJSONError(w, "Unknown realm", http.StatusUnprocessableEntity)
			return
		}
		logging.Error("Search in %s failed: %v", realm, err)
		writeJSONError(w, "Search failed", http.StatusInternalServerError)
		return
	}

	resp := SearchResponse{
		Query:        q,
		Limit:        limit,
		TotalMatched: results.TotalMatched,
		Results:      results.Results,
		Constraints:  req,
	}
	if resp.Results == nil {
		resp.Results = []search.Result{}
	}

	if resolve == 1 && len(results.Results) > 0 {
		hashes := make([]string, 0, len(results.Results))
		for _, res := range results.Results {
			hashes = append(hashes, res.HashPath)
		}
		records, err := h.db.FindByHash(r.Context(), hashes)
		if err != nil {
			logging.Error("Failed to resolve search hits of %s: %v", realm, err)
			writeJSONError(w, "Search failed", http.StatusInternalServerError)
			return
		}
		resp.Files = make(map[string]FileItem, len(records))
		for _, rec := range records {
			resp.Files[rec.HashPath] = newFileItem(rec)
		}
	}

	writeJSONResponse(w, resp, http.StatusOK)
}
