package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONResponse writes v with the given status code.
func writeJSONResponse(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, map[string]string{"error": message}, statusCode)
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string, statusCode int) {
	writeJSONResponse(w, map[string]string{"status": status}, statusCode)
}

// queryInt reads a non-negative integer query parameter. Missing values
// yield def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

// capLimit applies a response cap where 0 means "as many as allowed".
func capLimit(limit, max int) int {
	if limit == 0 || limit > max {
		return max
	}
	return limit
}

// validNames checks realm and storage path variables.
func validNames(realm, storage string) error {
	if err := catalogue.ValidateName("realm", realm); err != nil {
		return err
	}
	if storage == "" {
		return nil
	}
	return catalogue.ValidateName("storage", storage)
}

// FileItem is the JSON form of a catalogue record.
type FileItem struct {
	HashPath  string `json:"hashPath"`
	Storage   string `json:"storage"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Directory bool   `json:"directory"`
	Hidden    bool   `json:"hidden,omitempty"`
	Link      bool   `json:"link,omitempty"`
	Special   bool   `json:"special,omitempty"`
	// Modified is in milliseconds since the epoch.
	Modified int64 `json:"modified"`
	Length   int64 `json:"length"`
	Stable   bool  `json:"stable"`
}

func newFileItem(r catalogue.FileRecord) FileItem {
	return FileItem{
		HashPath:  r.HashPath,
		Storage:   r.Storage,
		Path:      r.Path,
		Name:      r.Name(),
		Directory: r.Directory,
		Hidden:    r.Hidden,
		Link:      r.Link,
		Special:   r.Special,
		Modified:  r.ModifiedAt.UnixMilli(),
		Length:    r.Length,
		Stable:    r.MarkedStable,
	}
}
