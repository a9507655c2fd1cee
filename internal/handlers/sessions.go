package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gluk-w/sshdeck/internal/config"
	"github.com/gluk-w/sshdeck/internal/database"
	"github.com/gluk-w/sshdeck/internal/sshtransport"
	"github.com/gluk-w/sshdeck/internal/terminal"
)

type createSessionRequest struct {
	HostID string `json:"host_id"`
}

// connectRequest carries the per-connect secrets. They are used for the
// handshake and never persisted.
type connectRequest struct {
	Password   string `json:"password,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

type writeRequest struct {
	Data string `json:"data"`
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type executeRequest struct {
	Command string `json:"command"`
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// CreateSession registers a new unconnected session for a saved host.
// POST /api/v1/sessions
func CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	host, err := database.GetHost(req.HostID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "host not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hostID, err := uuid.Parse(host.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "malformed host id")
		return
	}
	s := Sessions.Create(hostID, host.Name)
	writeJSON(w, http.StatusCreated, s.Info())
}

// ListSessions returns snapshots of all sessions.
// GET /api/v1/sessions
func ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]terminal.Info{"sessions": Sessions.List()})
}

// GetSession returns one session snapshot.
// GET /api/v1/sessions/{id}
func GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	info, err := Sessions.Get(id)
	if err != nil {
		writeSSHError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ConnectSession dials the session's host and starts the interactive shell.
// POST /api/v1/sessions/{id}/connect
func ConnectSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	var req connectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	var info terminal.Info
	err = Sessions.WithSession(id, func(s *terminal.Session) error {
		host, err := database.GetHost(s.HostID.String())
		if err != nil {
			return fmt.Errorf("load host %s: %w", s.HostID, err)
		}
		cfg, err := buildTransportConfig(host, req)
		if err != nil {
			return err
		}
		s.SetAutoReconnect(true, config.Cfg.ReconnectMaxRetries)
		if err := s.Connect(r.Context(), cfg); err != nil {
			return err
		}
		if err := database.RecordSessionStart(s.ID.String(), host.Name, cfg.Addr()); err != nil {
			log.Printf("[handlers] record session start: %v", err)
		}
		info = s.Info()
		return nil
	})
	if err != nil {
		writeSSHError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// buildTransportConfig assembles the dial configuration for a saved host,
// combining stored non-secret settings with per-request secrets.
func buildTransportConfig(host *database.Host, req connectRequest) (sshtransport.Config, error) {
	var auth sshtransport.AuthMethod
	switch host.AuthType {
	case "password":
		auth = sshtransport.PasswordAuth{Password: req.Password}
	case "private_key":
		auth = sshtransport.PrivateKeyAuth{KeyPath: host.KeyPath, Passphrase: req.Passphrase}
	case "agent":
		auth = sshtransport.AgentAuth{}
	default:
		return sshtransport.Config{}, fmt.Errorf("host %s has unknown auth type %q", host.ID, host.AuthType)
	}
	return sshtransport.Config{
		Host:     host.Address,
		Port:     host.Port,
		Username: host.Username,
		Auth:     auth,
		Timeout:  config.ConnectTimeoutDuration(),
		HostKeys: database.KnownHostStore{},
		Policy:   sshtransport.HostKeyPolicy(config.Cfg.KnownHostPolicy),
	}, nil
}

// WriteSession queues input bytes for the remote shell.
// POST /api/v1/sessions/{id}/write
func WriteSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err = Sessions.WithSession(id, func(s *terminal.Session) error {
		return s.Write([]byte(req.Data))
	})
	if err != nil {
		writeSSHError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResizeSession updates the terminal geometry.
// POST /api/v1/sessions/{id}/resize
func ResizeSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Cols == 0 || req.Rows == 0 {
		writeError(w, http.StatusBadRequest, "cols and rows must be positive")
		return
	}
	err = Sessions.WithSession(id, func(s *terminal.Session) error {
		return s.Resize(req.Cols, req.Rows)
	})
	if err != nil {
		writeSSHError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ExecuteSession runs a one-shot command over the session's connection.
// POST /api/v1/sessions/{id}/execute
func ExecuteSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	var out sshtransport.CommandOutput
	err = Sessions.WithSession(id, func(s *terminal.Session) error {
		var err error
		out, err = s.Execute(r.Context(), req.Command)
		return err
	})
	if err != nil {
		writeSSHError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// MeasureSessionLatency measures the session's round-trip time.
// POST /api/v1/sessions/{id}/latency
func MeasureSessionLatency(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	var ms int64
	err = Sessions.WithSession(id, func(s *terminal.Session) error {
		var err error
		ms, err = s.MeasureLatency(r.Context())
		return err
	})
	if err != nil {
		writeSSHError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"latency_ms": ms})
}

// DisconnectSession tears the connection down but keeps the session
// registered so it can be reconnected.
// POST /api/v1/sessions/{id}/disconnect
func DisconnectSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	err = Sessions.WithSession(id, func(s *terminal.Session) error {
		s.SetAutoReconnect(false, 0)
		if err := s.Disconnect(); err != nil {
			return err
		}
		if err := database.RecordSessionEnd(s.ID.String()); err != nil {
			log.Printf("[handlers] record session end: %v", err)
		}
		return nil
	})
	if err != nil {
		writeSSHError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// DeleteSession disconnects the session and removes it permanently.
// DELETE /api/v1/sessions/{id}
func DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	if err := Sessions.Close(id); err != nil {
		writeSSHError(w, err)
		return
	}
	if err := database.RecordSessionEnd(id.String()); err != nil {
		log.Printf("[handlers] record session end: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ListSessionAudits returns recent session audit rows.
// GET /api/v1/sessions/audit
func ListSessionAudits(w http.ResponseWriter, r *http.Request) {
	audits, err := database.ListSessionAudits(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]database.SessionAudit{"audits": audits})
}
