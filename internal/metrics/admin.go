package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reloader swaps the script table. Satisfied by *scripting.Engine.
type Reloader interface {
	Reload() (uint64, error)
}

// Admin wires the operator endpoints. Health may be nil.
type Admin struct {
	Metrics *Metrics
	Faults  *faultlog.Log
	Scripts Reloader
	Health  func() error
	Log     *zap.Logger
}

func (a *Admin) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(a.Metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/faults", a.faults).Methods(http.MethodGet)
	r.HandleFunc("/scripts/reload", a.reload).Methods(http.MethodPost)
	return r
}

func (a *Admin) healthz(w http.ResponseWriter, _ *http.Request) {
	if a.Health != nil {
		if err := a.Health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("ok\n"))
}

// faults lists the recent ring, optionally filtered by ?kind=.
func (a *Admin) faults(w http.ResponseWriter, r *http.Request) {
	entries := a.Faults.Recent()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		kept := entries[:0]
		for _, e := range entries {
			if string(e.Kind) == kind {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if entries == nil {
		entries = []faultlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *Admin) reload(w http.ResponseWriter, _ *http.Request) {
	version, err := a.Scripts.Reload()
	if err != nil {
		a.Log.Warn("script reload rejected", zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"version": version, "error": err.Error()})
		return
	}
	a.Log.Info("scripts reloaded", zap.Uint64("version", version))
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Serve runs the admin router on addr until ctx is done.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.Log.Info("admin listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
