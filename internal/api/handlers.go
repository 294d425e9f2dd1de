package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"grimm.is/curfew/internal/health"
	"grimm.is/curfew/internal/recon"
	"grimm.is/curfew/internal/state"
)

// StateResponse is the full inspection view: persistent state plus the most
// recent tick outcome.
type StateResponse struct {
	Snapshot *state.Snapshot   `json:"snapshot"`
	LastTick *recon.TickReport `json:"last_tick,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := state.LoadSnapshot(s.opts.Store)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read state", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, StateResponse{
		Snapshot: snap,
		LastTick: s.opts.Engine.LastReport(),
	})
}

// UsageResponse reports consumption against configured limits.
type UsageResponse struct {
	Profiles []ProfileUsageView `json:"profiles"`
}

// ProfileUsageView is one profile's budget position.
type ProfileUsageView struct {
	Profile    string `json:"profile"`
	UsageToday int    `json:"usage_today"`
	UsageWeek  int    `json:"usage_week"`
	DailyLimit int    `json:"daily_limit"`
	Remaining  int    `json:"remaining"` // -1 when unlimited
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	cfg := s.opts.Engine.Config()
	resp := UsageResponse{Profiles: make([]ProfileUsageView, 0, len(cfg.Profiles))}
	for _, p := range cfg.Profiles {
		agg, err := s.opts.Ledger.ProfileUsage(p.Name)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read usage", err.Error())
			return
		}
		view := ProfileUsageView{
			Profile:    p.Name,
			UsageToday: agg.UsageToday,
			UsageWeek:  agg.UsageWeek,
			DailyLimit: p.DailyLimitMinutes,
			Remaining:  -1,
		}
		if p.DailyLimitMinutes > 0 {
			view.Remaining = p.DailyLimitMinutes - agg.UsageToday
			if view.Remaining < 0 {
				view.Remaining = 0
			}
		}
		resp.Profiles = append(resp.Profiles, view)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	active, err := s.opts.Overrides.Active()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read overrides", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, active)
}

// OverrideRequest is the grant request body.
type OverrideRequest struct {
	MAC             string `json:"mac"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Block           bool   `json:"block,omitempty"`
}

func (s *Server) handleGrantOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.MAC == "" {
		WriteError(w, http.StatusBadRequest, "mac is required")
		return
	}

	ov, err := s.opts.Overrides.Grant(req.MAC,
		time.Duration(req.DurationMinutes)*time.Minute, req.Reason, req.Block)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "grant failed", err.Error())
		return
	}
	s.kick(r)
	WriteJSON(w, http.StatusCreated, ov)
}

func (s *Server) handleRevokeOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Overrides.Revoke(r.PathValue("mac")); err != nil {
		WriteError(w, http.StatusBadRequest, "revoke failed", err.Error())
		return
	}
	s.kick(r)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.opts.Engine.Tick(r.Context())
	if err != nil {
		if errors.Is(err, recon.ErrTickInProgress) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "reconciliation failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// ResetRequest selects which counters to zero.
type ResetRequest struct {
	Scope string `json:"scope"` // "daily" or "weekly"
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	req := ResetRequest{Scope: "daily"}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	if err := s.opts.Ledger.ForceReset(req.Scope); err != nil {
		WriteError(w, http.StatusBadRequest, "reset failed", err.Error())
		return
	}
	s.kick(r)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset", "scope": req.Scope})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := []health.Check{health.CheckStore(s.opts.Store)}
	if s.opts.Checks != nil {
		checks = append(checks, s.opts.Checks()...)
	}
	status := http.StatusOK
	if health.Worst(checks) == health.StatusFail {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]any{
		"status": string(health.Worst(checks)),
		"uptime": time.Since(s.start).Round(time.Second).String(),
		"checks": checks,
	})
}

// kick runs a reconciliation in the background so state changes made through
// the API take effect now rather than at the next scheduled tick. A skipped
// tick is fine; the running one will pick the change up.
func (s *Server) kick(r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := s.opts.Engine.Tick(ctx); err != nil &&
			!errors.Is(err, recon.ErrTickInProgress) {
			s.logger.Warn("post-change reconciliation failed", "error", err)
		}
	}()
}
