package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/health"
	"github.com/arloliu/footrig/reliability"
)

type healthBody struct {
	health.StateInfo
	Report string `json:"report"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := s.rig.HealthReport()
	s.writeJSON(w, http.StatusOK, healthBody{StateInfo: s.rig.Health().StateInfo(), Report: report})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rig.LoopMetrics())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.rig.DomainSnapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "n must be a positive integer"})
			return
		}
		n = parsed
	}
	entries := s.rig.Journal().Recent(n)
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type relayBody struct {
	On bool `json:"on"`
}

type relayStateBody struct {
	Channel int  `json:"channel"`
	On      bool `json:"on"`
}

func (s *Server) handleRelays(w http.ResponseWriter, _ *http.Request) {
	states, err := s.rig.RelayStates()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]relayStateBody, 0, len(states))
	for i, on := range states {
		out = append(out, relayStateBody{Channel: i + 1, On: on})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetAllRelays(w http.ResponseWriter, r *http.Request) {
	var body relayBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.rig.SetAllRelays(body.On); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleRelays(w, r)
}

func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	var body relayBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	ch := channel(r)
	if err := s.rig.SetRelay(ch, body.On); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, relayStateBody{Channel: ch, On: body.On})
}

func (s *Server) handleToggleRelay(w http.ResponseWriter, r *http.Request) {
	ch := channel(r)
	on, err := s.rig.ToggleRelay(ch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, relayStateBody{Channel: ch, On: on})
}

func (s *Server) handlePressures(w http.ResponseWriter, _ *http.Request) {
	rs, err := s.rig.ReadAllReadings()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handlePressure(w http.ResponseWriter, r *http.Request) {
	rd, err := s.rig.ReadReading(channel(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rd)
}

type testRequest struct {
	Target    *float64 `json:"target_bar"`
	TimeoutMs *int64   `json:"timeout_ms"`
}

type testStatusBody struct {
	Status  engine.Status `json:"status"`
	Running bool          `json:"running"`
}

func (s *Server) handleTestStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, testStatusBody{Status: s.rig.TestStatus(), Running: s.rig.TestRunning()})
}

func (s *Server) handleCancelTest(w http.ResponseWriter, _ *http.Request) {
	s.rig.CancelTest()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	kind := mux.Vars(r)["kind"]
	p, start := s.defaults.Support, s.rig.StartSupportTestAsync
	if kind == "retract" {
		p, start = s.defaults.Retract, s.rig.StartRetractTestAsync
	}
	if req.Target != nil {
		p.Target = *req.Target
	}
	if req.TimeoutMs != nil {
		p.Timeout = time.Duration(*req.TimeoutMs) * time.Millisecond
	}
	if p.Timeout <= 0 {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "timeout_ms must be positive"})
		return
	}

	if err := start(p.Target, p.Timeout, nil); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"kind":       kind,
		"target_bar": p.Target,
		"timeout_ms": p.Timeout.Milliseconds(),
	})
}

type reliabilityRequest struct {
	SupportTarget    *float64 `json:"support_target_bar"`
	RetractTarget    *float64 `json:"retract_target_bar"`
	SupportTimeoutMs *int64   `json:"support_timeout_ms"`
	RetractTimeoutMs *int64   `json:"retract_timeout_ms"`
}

func (req reliabilityRequest) params(p reliability.Params) reliability.Params {
	if req.SupportTarget != nil {
		p.SupportTarget = *req.SupportTarget
	}
	if req.RetractTarget != nil {
		p.RetractTarget = *req.RetractTarget
	}
	if req.SupportTimeoutMs != nil {
		p.SupportTimeout = time.Duration(*req.SupportTimeoutMs) * time.Millisecond
	}
	if req.RetractTimeoutMs != nil {
		p.RetractTimeout = time.Duration(*req.RetractTimeoutMs) * time.Millisecond
	}

	return p
}

func (s *Server) handleReliabilityStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rig.ReliabilityStats())
}

func (s *Server) handleStartReliability(w http.ResponseWriter, r *http.Request) {
	var req reliabilityRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p := req.params(s.defaults.Reliability)
	if err := s.rig.StartReliability(p); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, p)
}

// handleStopReliability ends the run. ?report=true writes the report, ?force=true cancels the
// test in flight.
func (s *Server) handleStopReliability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := reliability.StopOptions{
		Report: q.Get("report") == "true",
		Force:  q.Get("force") == "true",
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	st, err := s.rig.StopReliability(ctx, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSaveReport(w http.ResponseWriter, _ *http.Request) {
	path, err := s.rig.SaveCurrentReport("")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}
