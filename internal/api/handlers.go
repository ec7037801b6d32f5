package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/livepilot/livepilot-go/internal/services/sweep"
	"github.com/livepilot/livepilot-go/internal/services/version"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version.Get().Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

// parameterView pairs a parameter's configuration with its latest sample.
type parameterView struct {
	Index      int      `json:"index"`
	Name       string   `json:"name"`
	Min        float64  `json:"min_value"`
	Max        float64  `json:"max_value"`
	Unit       string   `json:"unit,omitempty"`
	Normalized *float64 `json:"normalized,omitempty"`
	Raw        *float64 `json:"raw,omitempty"`
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	params := s.poller.Parameters()
	latest := s.poller.Latest()

	out := make([]parameterView, 0, len(params))
	for _, p := range params {
		view := parameterView{
			Index: p.Index,
			Name:  p.Name,
			Min:   p.Min,
			Max:   p.Max,
			Unit:  p.Unit,
		}
		if latest != nil {
			if v, ok := latest.Values[p.Index]; ok {
				norm := v
				view.Normalized = &norm
			}
			if rv, ok := latest.Raw[p.Index]; ok {
				raw := rv
				view.Raw = &raw
			}
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, http.StatusServiceUnavailable, "trigger history is not configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer up to 1000")
			return
		}
		limit = n
	}
	events, err := s.triggers.FindRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load trigger history")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRuleSets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Summaries())
}

func (s *Server) handleRuleToggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var changed int
		if enabled {
			changed = s.controller.EnableRule(id)
		} else {
			changed = s.controller.DisableRule(id)
		}
		if changed == 0 {
			writeError(w, http.StatusNotFound, "no rule with id "+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rule_id": id,
			"enabled": enabled,
			"changed": changed,
		})
	}
}

func (s *Server) handleRuleSetToggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !s.controller.EnableRuleSet(id, enabled) {
			writeError(w, http.StatusNotFound, "no ruleset with id "+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ruleset_id": id,
			"enabled":    enabled,
		})
	}
}

// startSweepRequest is the POST /api/sweeps body.
type startSweepRequest struct {
	TrackIndex      int      `json:"track_index"`
	DeviceIndex     int      `json:"device_index"`
	ParameterIndex  int      `json:"parameter_index"`
	Waveform        string   `json:"waveform"`
	DurationSeconds float64  `json:"duration_seconds"`
	Base            float64  `json:"base"`
	Amplitude       float64  `json:"amplitude"`
	FreqHz          float64  `json:"freq_hz"`
	Class           string   `json:"class"`
	Target          *float64 `json:"target,omitempty"`
}

func (s *Server) handleStartSweep(w http.ResponseWriter, r *http.Request) {
	var req startSweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	waveform, err := sweep.ParseWaveform(req.Waveform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "duration_seconds must be positive")
		return
	}

	key := sweep.Key{Track: req.TrackIndex, Device: req.DeviceIndex, Parameter: req.ParameterIndex}
	started := s.sweeps.StartSweep(key, sweep.Config{
		Waveform:  waveform,
		Duration:  time.Duration(req.DurationSeconds * float64(time.Second)),
		Base:      req.Base,
		Amplitude: req.Amplitude,
		FreqHz:    req.FreqHz,
		Class:     req.Class,
		Target:    req.Target,
	})
	if !started {
		writeError(w, http.StatusConflict, "a sweep is already active on this parameter")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"track_index":     key.Track,
		"device_index":    key.Device,
		"parameter_index": key.Parameter,
		"waveform":        req.Waveform,
		"state":           sweep.StateActive,
	})
}

func (s *Server) handleStopSweep(w http.ResponseWriter, r *http.Request) {
	key, err := sweepKeyFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.sweeps.StopSweep(key) {
		writeError(w, http.StatusNotFound, "no active sweep on this parameter")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"track_index":     key.Track,
		"device_index":    key.Device,
		"parameter_index": key.Parameter,
		"state":           sweep.StateIdle,
	})
}

func sweepKeyFromURL(r *http.Request) (sweep.Key, error) {
	track, err := strconv.Atoi(chi.URLParam(r, "track"))
	if err != nil {
		return sweep.Key{}, err
	}
	device, err := strconv.Atoi(chi.URLParam(r, "device"))
	if err != nil {
		return sweep.Key{}, err
	}
	parameter, err := strconv.Atoi(chi.URLParam(r, "parameter"))
	if err != nil {
		return sweep.Key{}, err
	}
	return sweep.Key{Track: track, Device: device, Parameter: parameter}, nil
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.controller.EmergencyStop()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stopped":       true,
		"active_sweeps": s.sweeps.ActiveCount(),
	})
}
