// Package controlplane implements C8: the resolver daemon's lifecycle
// surface. It owns process registration (register_as_resolver),
// exposes health/ready/metrics endpoints, and serves a loopback JSON
// API for operator actions (force_refund, list-swaps, get-swap),
// grounded on the teacher's server/health.go ComponentHealth pattern
// but extended to a general-purpose control mux instead of a
// single-purpose health server (spec.md §6.1).
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/incident"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/scheduler"
	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// ComponentHealth tracks the health of one subsystem the control
// plane monitors.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status     string                       `json:"status"` // healthy, degraded, unhealthy
	Version    string                       `json:"version"`
	Uptime     string                       `json:"uptime"`
	Components map[string]*ComponentHealth `json:"components"`
	Timestamp  time.Time                    `json:"timestamp"`
}

// ControlPlane serves the health/ready/metrics and operator-action
// surface over two loopback HTTP servers (spec.md §6.1).
type ControlPlane struct {
	cfg Config

	store    store.Store
	adapters map[swaptypes.Ledger]chainadapter.Adapter
	sched    *scheduler.Scheduler
	logger   *obslog.Logger

	mu         sync.RWMutex
	components map[string]*ComponentHealth
	incidents  []incident.Incident

	startTime  time.Time
	healthSrv  *http.Server
	controlSrv *http.Server
}

// Config configures the control plane's listen ports and startup
// preconditions.
type Config struct {
	HealthPort     int
	ControlPort    int
	ServiceVersion string
	StakeA         uint64
	StakeB         uint64
}

func New(cfg Config, st store.Store, adapters map[swaptypes.Ledger]chainadapter.Adapter, sched *scheduler.Scheduler, logger *obslog.Logger) *ControlPlane {
	return &ControlPlane{
		cfg:        cfg,
		store:      st,
		adapters:   adapters,
		sched:      sched,
		logger:     logger.Component("controlplane"),
		components: make(map[string]*ComponentHealth),
		startTime:  time.Now(),
	}
}

// OpenIncident implements incident.Sink: incidents raised by the
// Correlator or Swap Engine surface through /incidents and /health.
func (cp *ControlPlane) OpenIncident(ctx context.Context, inc incident.Incident) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.incidents = append(cp.incidents, inc)
	cp.logger.Warn().Str("swap_id", string(inc.SwapID)).Str("kind", string(inc.Kind)).Str("detail", inc.Detail).Msg("incident opened")
}

// RegisterAsResolver verifies the configured stake precondition on
// both ledgers before the daemon begins processing (spec.md §9): it
// is a one-time check, never enforced continuously, and is idempotent
// across restarts. Callers exit with code 2 on failure (spec.md §6).
func (cp *ControlPlane) RegisterAsResolver(ctx context.Context) error {
	for ledger, adapter := range cp.adapters {
		minStake := cp.cfg.StakeA
		if ledger == swaptypes.LedgerB {
			minStake = cp.cfg.StakeB
		}
		if err := adapter.CheckStake(ctx, minStake); err != nil {
			return fmt.Errorf("controlplane: resolver stake check failed on ledger %s: %w", ledger, err)
		}
	}
	cp.logger.Info().Msg("resolver stake verified on both ledgers")
	return nil
}

// UpdateComponentHealth records one subsystem's last observed health.
func (cp *ControlPlane) UpdateComponentHealth(name string, healthy bool, err error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	comp, ok := cp.components[name]
	if !ok {
		comp = &ComponentHealth{Name: name}
		cp.components[name] = comp
	}
	comp.Healthy = healthy
	comp.LastCheck = time.Now()
	if err != nil {
		comp.LastError = err.Error()
	} else {
		comp.LastError = ""
	}
}

// Start launches the health/metrics server and the operator control
// server; both listen on loopback only.
func (cp *ControlPlane) Start(ctx context.Context) error {
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", cp.handleHealth)
	healthMux.HandleFunc("/ready", cp.handleReady)
	healthMux.Handle("/metrics", promhttp.Handler())
	cp.healthSrv = &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", cp.cfg.HealthPort), Handler: healthMux}

	controlMux := http.NewServeMux()
	controlMux.HandleFunc("/swaps", cp.handleListSwaps)
	controlMux.HandleFunc("/swaps/", cp.handleGetOrForceRefundSwap)
	controlMux.HandleFunc("/incidents", cp.handleListIncidents)
	cp.controlSrv = &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", cp.cfg.ControlPort), Handler: controlMux}

	go func() {
		if err := cp.healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cp.logger.Error().Err(err).Msg("health server error")
		}
	}()
	go func() {
		if err := cp.controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cp.logger.Error().Err(err).Msg("control server error")
		}
	}()

	cp.logger.Info().Int("health_port", cp.cfg.HealthPort).Int("control_port", cp.cfg.ControlPort).Msg("control plane listening")
	return nil
}

// Stop gracefully shuts down both servers (spec.md §4.8).
func (cp *ControlPlane) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var errs []error
	if cp.healthSrv != nil {
		if err := cp.healthSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if cp.controlSrv != nil {
		if err := cp.controlSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("controlplane: shutdown errors: %v", errs)
	}
	return nil
}

func (cp *ControlPlane) handleHealth(w http.ResponseWriter, r *http.Request) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	status := "healthy"
	unhealthy := 0
	for _, comp := range cp.components {
		if !comp.Healthy {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		if unhealthy == len(cp.components) {
			status = "unhealthy"
		} else {
			status = "degraded"
		}
	}

	body := HealthStatus{
		Status:     status,
		Version:    cp.cfg.ServiceVersion,
		Uptime:     time.Since(cp.startTime).String(),
		Components: cp.components,
		Timestamp:  time.Now(),
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (cp *ControlPlane) handleReady(w http.ResponseWriter, r *http.Request) {
	cp.mu.RLock()
	storeComp, haveStore := cp.components["store"]
	cp.mu.RUnlock()

	ready := !haveStore || storeComp.Healthy
	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready\n"))
	}
}

func (cp *ControlPlane) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	swaps, err := cp.store.ListSwaps(ctx, store.SwapFilter{Limit: 500})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, swaps)
}

func (cp *ControlPlane) handleGetOrForceRefundSwap(w http.ResponseWriter, r *http.Request) {
	id := swaptypes.SwapID(r.URL.Path[len("/swaps/"):])
	ctx := r.Context()

	if r.Method == http.MethodPost {
		cp.forceRefund(ctx, id, w)
		return
	}

	swap, err := cp.store.GetSwap(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "swap not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, swap)
}

// forceRefund is the operator action that arms an immediate
// re-evaluation of swap id, bypassing the timer wheel's wait for the
// deadline to elapse naturally — used to unstick a swap an operator
// has confirmed is safe to force (spec.md §6.1).
func (cp *ControlPlane) forceRefund(ctx context.Context, id swaptypes.SwapID, w http.ResponseWriter) {
	if _, err := cp.store.GetSwap(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "swap not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cp.sched.Enqueue(scheduler.Task{SwapID: id, Reason: scheduler.ReasonOperator})
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("force_refund enqueued\n"))
}

func (cp *ControlPlane) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	writeJSON(w, cp.incidents)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
