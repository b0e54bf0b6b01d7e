package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"optionsfi-keeper/internal/keeper"
	"optionsfi-keeper/internal/settle"
	"optionsfi-keeper/internal/solvency"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status string          `json:"status"`
	Paused bool            `json:"paused"`
	Vaults []keeper.Health `json:"vaults"`
}

type triggerResponse struct {
	AssetID   string         `json:"asset_id"`
	Outcome   keeper.Outcome `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	Epoch     uint64         `json:"epoch"`
	Premium   float64        `json:"premium,omitempty"`
	MakerID   string         `json:"maker_id,omitempty"`
	Signature string         `json:"signature,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type settleResponse struct {
	settle.ExpiryResult
	Error string `json:"error,omitempty"`
}

type reconcileResponse struct {
	solvency.Report
	Error string `json:"error,omitempty"`
}

func (a *App) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /events", a.handleEvents)
	mux.HandleFunc("POST /trigger", a.handleTrigger)
	mux.HandleFunc("POST /reconcile", a.handleReconcile)
	mux.HandleFunc("POST /settle", a.handleSettle)
	if a.prom != nil {
		mux.Handle("GET /metrics", a.prom.Handler())
	}
	return mux
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Paused: a.scheduler.Runtime().Paused(),
		Vaults: a.scheduler.Status(),
	}
	code := http.StatusOK
	if !a.scheduler.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	a.writeJSON(w, code, resp)
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.scheduler.Events().List())
}

func (a *App) handleTrigger(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	if asset == "" {
		http.Error(w, "asset is required", http.StatusBadRequest)
		return
	}
	report, err := a.scheduler.Trigger(r.Context(), asset)
	resp := triggerResponse{
		AssetID:   asset,
		Outcome:   report.Outcome,
		Reason:    report.Reason,
		Epoch:     report.Epoch,
		Premium:   report.Auction.Best.Premium,
		MakerID:   report.Auction.Best.MakerID,
		Signature: report.Settlement.Signature,
	}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
	}
	a.writeJSON(w, code, resp)
}

func (a *App) handleReconcile(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	if asset == "" {
		http.Error(w, "asset is required", http.StatusBadRequest)
		return
	}
	reconcile := a.scheduler.Reconcile
	if fix := r.URL.Query().Get("fix"); fix == "1" || fix == "true" {
		reconcile = a.scheduler.Repair
	}
	report, err := reconcile(r.Context(), asset)
	resp := reconcileResponse{Report: report}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
	}
	a.writeJSON(w, code, resp)
}

func (a *App) handleSettle(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	if asset == "" {
		http.Error(w, "asset is required", http.StatusBadRequest)
		return
	}
	res, err := a.scheduler.Settle(r.Context(), asset)
	resp := settleResponse{ExpiryResult: res}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
	}
	a.writeJSON(w, code, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, keeper.ErrUnknownVault), errors.Is(err, settle.ErrNoOpenOption):
		return http.StatusNotFound
	case errors.Is(err, keeper.ErrInFlight), errors.Is(err, settle.ErrNotExpired):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (a *App) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("ops response encode failed", zap.Error(err))
	}
}
