package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/sshdeck/internal/registry"
	"github.com/gluk-w/sshdeck/internal/sshtransport"
)

// Sessions is the live session registry. Set from main.go during init.
var Sessions *registry.Registry

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeSSHError maps transport and registry errors onto HTTP statuses.
func writeSSHError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sshtransport.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sshtransport.ErrAuthenticationFailed):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, sshtransport.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, sshtransport.ErrConnectionFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, sshtransport.ErrKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
