package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/sshdeck/internal/config"
	"github.com/gluk-w/sshdeck/internal/database"
	"github.com/gluk-w/sshdeck/internal/handlers"
	"github.com/gluk-w/sshdeck/internal/logging"
	"github.com/gluk-w/sshdeck/internal/probe"
	"github.com/gluk-w/sshdeck/internal/registry"
	"github.com/gluk-w/sshdeck/internal/sshkeys"
)

func main() {
	config.Load()

	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: ListenAddr=%s, KnownHostPolicy=%s, ProbeSchedule=%s",
		config.Cfg.ListenAddr, config.Cfg.KnownHostPolicy, config.Cfg.LatencyProbeSchedule)

	// Init the local client key pair used for key-based auth to hosts
	// that have no key_path of their own.
	_, publicKey, err := sshkeys.EnsureKeyPair(config.Cfg.DataPath)
	if err != nil {
		log.Fatalf("SSH key init: %v", err)
	}
	log.Printf("Client key pair ready (public key: %d bytes)", len(publicKey))

	sessions := registry.New()
	handlers.Sessions = sessions

	prober := probe.New(sessions)
	if err := prober.Start(config.Cfg.LatencyProbeSchedule); err != nil {
		log.Fatalf("Latency probe init: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.Health)
	r.Get("/api/v1/logs", handlers.GetServerLogs)

	r.Route("/api/v1", func(r chi.Router) {
		// Hosts
		r.Get("/hosts", handlers.ListHosts)
		r.Post("/hosts", handlers.CreateHost)
		r.Get("/hosts/{id}", handlers.GetHost)
		r.Put("/hosts/{id}", handlers.UpdateHost)
		r.Delete("/hosts/{id}", handlers.DeleteHost)

		// Known host keys
		r.Get("/known-hosts", handlers.ListKnownHostKeys)
		r.Delete("/known-hosts/{host}/{port}/{keyType}", handlers.DeleteKnownHostKey)

		// Sessions
		r.Get("/sessions", handlers.ListSessions)
		r.Post("/sessions", handlers.CreateSession)
		r.Get("/sessions/audit", handlers.ListSessionAudits)
		r.Get("/sessions/{id}", handlers.GetSession)
		r.Delete("/sessions/{id}", handlers.DeleteSession)
		r.Post("/sessions/{id}/connect", handlers.ConnectSession)
		r.Post("/sessions/{id}/disconnect", handlers.DisconnectSession)
		r.Post("/sessions/{id}/write", handlers.WriteSession)
		r.Post("/sessions/{id}/resize", handlers.ResizeSession)
		r.Post("/sessions/{id}/execute", handlers.ExecuteSession)
		r.Post("/sessions/{id}/latency", handlers.MeasureSessionLatency)
		r.Get("/sessions/{id}/events", handlers.SessionEventsWS)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	prober.Stop()
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
