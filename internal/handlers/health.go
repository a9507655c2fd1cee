package handlers

import (
	"net/http"

	"github.com/gluk-w/sshdeck/internal/database"
)

// Health reports service liveness, database reachability, and the number
// of live sessions.
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	dbOK := database.DB != nil
	if dbOK {
		if sqlDB, err := database.DB.DB(); err != nil || sqlDB.Ping() != nil {
			dbOK = false
		}
	}
	status := "ok"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"database": dbOK,
		"sessions": Sessions.Count(),
	})
}
