package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/sshdeck/internal/logging"
)

// GetServerLogs returns the tail of the server log file.
// GET /api/v1/logs?lines=N
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if q := r.URL.Query().Get("lines"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			lines = n
		}
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}
