package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gluk-w/sshdeck/internal/database"
)

type hostRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	AuthType string `json:"auth_type"`
	KeyPath  string `json:"key_path"`
}

func (hr *hostRequest) validate() string {
	if hr.Name == "" {
		return "name is required"
	}
	if hr.Address == "" {
		return "address is required"
	}
	if hr.Username == "" {
		return "username is required"
	}
	switch hr.AuthType {
	case "", "password", "private_key", "agent":
	default:
		return "auth_type must be password, private_key, or agent"
	}
	if hr.AuthType == "private_key" && hr.KeyPath == "" {
		return "key_path is required for private_key auth"
	}
	return ""
}

// CreateHost registers a new SSH destination.
// POST /api/v1/hosts
func CreateHost(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	h := &database.Host{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Address:  req.Address,
		Port:     req.Port,
		Username: req.Username,
		AuthType: req.AuthType,
		KeyPath:  req.KeyPath,
	}
	if h.Port == 0 {
		h.Port = 22
	}
	if h.AuthType == "" {
		h.AuthType = "password"
	}
	if err := database.CreateHost(h); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

// ListHosts returns all saved hosts.
// GET /api/v1/hosts
func ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := database.ListHosts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]database.Host{"hosts": hosts})
}

// GetHost returns one saved host.
// GET /api/v1/hosts/{id}
func GetHost(w http.ResponseWriter, r *http.Request) {
	h, err := database.GetHost(chi.URLParam(r, "id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "host not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// UpdateHost modifies a saved host.
// PUT /api/v1/hosts/{id}
func UpdateHost(w http.ResponseWriter, r *http.Request) {
	h, err := database.GetHost(chi.URLParam(r, "id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "host not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	h.Name = req.Name
	h.Address = req.Address
	h.Username = req.Username
	h.KeyPath = req.KeyPath
	if req.AuthType != "" {
		h.AuthType = req.AuthType
	}
	if req.Port != 0 {
		h.Port = req.Port
	}
	if err := database.UpdateHost(h); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// DeleteHost removes a saved host.
// DELETE /api/v1/hosts/{id}
func DeleteHost(w http.ResponseWriter, r *http.Request) {
	if err := database.DeleteHost(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListKnownHostKeys returns every pinned host key fingerprint.
// GET /api/v1/known-hosts
func ListKnownHostKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := database.ListKnownHostKeys()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]database.KnownHostKey{"keys": keys})
}

// DeleteKnownHostKey drops a pinned fingerprint so the next connection
// re-records it. Used after a legitimate host key rotation.
// DELETE /api/v1/known-hosts/{host}/{port}/{keyType}
func DeleteKnownHostKey(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}
	host := chi.URLParam(r, "host")
	keyType := chi.URLParam(r, "keyType")
	if err := database.DeleteKnownHostKey(host, port, keyType); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
