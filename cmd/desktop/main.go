package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/altitudeinfosys/expandnote/cmd/desktop/handlers"
	"github.com/altitudeinfosys/expandnote/internal/config"
	"github.com/altitudeinfosys/expandnote/internal/crypto"
	"github.com/altitudeinfosys/expandnote/internal/db"
	"github.com/altitudeinfosys/expandnote/internal/logging"
	"github.com/altitudeinfosys/expandnote/internal/notes"
	"github.com/altitudeinfosys/expandnote/internal/queue"
	"github.com/altitudeinfosys/expandnote/internal/reconciler"
	"github.com/altitudeinfosys/expandnote/internal/remote"
	"github.com/altitudeinfosys/expandnote/internal/status"
	"github.com/altitudeinfosys/expandnote/internal/store"
)

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)

	cfg, err := config.Load(os.Getenv("EXPANDNOTE_CONFIG"))
	if err != nil {
		logging.Error("failed to load config", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logging.Error("failed to create data directory", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("failed to open database", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := db.Migrate(database.DB); err != nil {
		logging.Error("failed to migrate database", err)
		os.Exit(1)
	}

	st := store.NewStore(database.DB)
	defer st.Close()
	q, err := queue.NewQueue(database.DB)
	if err != nil {
		logging.Error("failed to open mutation queue", err)
		os.Exit(1)
	}

	agg := status.NewAggregator()
	hub := NewWSHub()
	agg.SetBroadcaster(hub)

	// The bearer token is resolved per request from the encrypted credential
	// row, so re-authentication takes effect without a restart.
	token := func(ctx context.Context) (string, error) {
		cred, err := st.GetEnabledCredential(ctx)
		if err != nil {
			return "", err
		}
		return crypto.DecryptToken(cred.TokenEncrypted, cfg.MachineID)
	}
	baseURL := cfg.RemoteBaseURL
	if baseURL == "" {
		if cred, err := st.GetEnabledCredential(context.Background()); err == nil {
			baseURL = cred.BaseURL
		}
	}
	client := remote.NewClient(baseURL, cfg.DrainTimeout, token)

	rec := reconciler.New(st, q, agg, client, cfg)
	svc := notes.NewService(st, q, agg)
	svc.SetResolver(rec)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go rec.Run(ctx)

	syncHandler := handlers.NewSyncHandler(svc, st, q, cfg.MachineID)
	syncHandler.SetPuller(rec)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newMux(svc, syncHandler, hub),
	}

	go func() {
		logging.Info("desktop daemon listening", map[string]interface{}{
			"addr": cfg.ListenAddr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("http server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown failed", err)
	}
}

// newMux wires the REST and WebSocket routes.
func newMux(svc *notes.Service, syncHandler *handlers.SyncHandler, hub *WSHub) *http.ServeMux {
	noteHandler := handlers.NewNoteHandler(svc)
	tagHandler := handlers.NewTagHandler(svc)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"expandnote-desktop"}`))
	})

	mux.HandleFunc("GET /notes", noteHandler.ListNotes)
	mux.HandleFunc("POST /notes", noteHandler.CreateNote)
	mux.HandleFunc("GET /notes/search", noteHandler.SearchNotes)
	mux.HandleFunc("GET /notes/{id}", noteHandler.GetNote)
	mux.HandleFunc("PUT /notes/{id}", noteHandler.UpdateNote)
	mux.HandleFunc("DELETE /notes/{id}", noteHandler.DeleteNote)

	mux.HandleFunc("GET /tags", tagHandler.ListTags)
	mux.HandleFunc("POST /tags", tagHandler.CreateTag)
	mux.HandleFunc("DELETE /tags/{id}", tagHandler.DeleteTag)
	mux.HandleFunc("GET /notes/{id}/tags", tagHandler.ListNoteTags)
	mux.HandleFunc("PUT /notes/{id}/tags/{tagID}", tagHandler.AttachTag)
	mux.HandleFunc("DELETE /notes/{id}/tags/{tagID}", tagHandler.DetachTag)

	mux.HandleFunc("GET /sync/status", syncHandler.GetStatus)
	mux.HandleFunc("POST /sync/now", syncHandler.TriggerSync)
	mux.HandleFunc("POST /sync/pull", syncHandler.Pull)
	mux.HandleFunc("GET /sync/conflicts", syncHandler.ListConflicts)
	mux.HandleFunc("POST /sync/conflicts/{id}/resolve", syncHandler.ResolveConflict)
	mux.HandleFunc("GET /sync/credentials", syncHandler.GetCredentials)
	mux.HandleFunc("POST /sync/credentials", syncHandler.SetCredentials)
	mux.HandleFunc("DELETE /sync/credentials", syncHandler.DeleteCredentials)

	mux.HandleFunc("GET /ws", HandleWebSocket(hub))

	return mux
}
