// Package admin exposes the rig over HTTP: a JSON REST API for relays, sensors, tests and
// reliability runs, and a websocket stream of readings, test events, reliability progress and
// journal entries.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/arloliu/footrig/cyclic"
	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/gateway"
	"github.com/arloliu/footrig/health"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/notify"
	"github.com/arloliu/footrig/reliability"
	"github.com/arloliu/footrig/rig"
	"github.com/arloliu/footrig/sensor"
)

// Rig is the controller surface served by the admin API. rig.Controller satisfies it.
type Rig interface {
	Journal() *eventlog.Journal
	Health() *health.Monitor
	HealthReport() string
	LoopMetrics() cyclic.MetricsSnapshot
	DomainSnapshot() (rig.DomainSnapshot, error)

	SetRelay(ch int, on bool) error
	ToggleRelay(ch int) (bool, error)
	SetAllRelays(on bool) error
	RelayStates() ([gateway.RelayChannels]bool, error)
	ReadAllReadings() ([sensor.Channels]sensor.Reading, error)
	ReadReading(ch int) (sensor.Reading, error)

	StartSupportTestAsync(target float64, timeout time.Duration, done func(engine.Result)) error
	StartRetractTestAsync(target float64, timeout time.Duration, done func(engine.Result)) error
	CancelTest()
	TestStatus() engine.Status
	TestRunning() bool
	SubscribeTests(buffer int) *notify.Subscription[engine.Event]

	StartReliability(p reliability.Params) error
	StopReliability(ctx context.Context, opts reliability.StopOptions) (reliability.Stats, error)
	ReliabilityStats() reliability.Stats
	SubscribeReliability(buffer int) *notify.Subscription[reliability.Progress]
	SaveCurrentReport(path string) (string, error)

	SubscribeReadings(buffer int) *notify.Subscription[sensor.Reading]
}

var _ Rig = (*rig.Controller)(nil)

// Server serves the admin API.
type Server struct {
	rig      Rig
	router   *mux.Router
	upgrader websocket.Upgrader
	log      logger.Logger
	defaults Defaults
}

// Defaults are the targets and timeouts used when a request omits them.
type Defaults struct {
	Support     engine.Params
	Retract     engine.Params
	Reliability reliability.Params
}

// Option configures a Server.
type Option interface {
	apply(*Server)
}

type serverOptFunc func(*Server)

func (f serverOptFunc) apply(s *Server) { f(s) }

// WithLogger sets the ambient logger.
func WithLogger(l logger.Logger) Option {
	return serverOptFunc(func(s *Server) {
		if l != nil {
			s.log = l
		}
	})
}

// WithDefaults sets the request defaults.
func WithDefaults(d Defaults) Option {
	return serverOptFunc(func(s *Server) { s.defaults = d })
}

// NewServer creates a Server for r.
func NewServer(r Rig, opts ...Option) *Server {
	s := &Server{
		rig:    r,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.GetLogger(),
		defaults: Defaults{
			Support: engine.Params{Target: 22, Timeout: 10 * time.Second},
			Retract: engine.Params{Target: 1, Timeout: 10 * time.Second},
			Reliability: reliability.Params{
				SupportTarget:  22,
				RetractTarget:  1,
				SupportTimeout: 10 * time.Second,
				RetractTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	s.log = s.log.With("component", "admin")
	s.routes()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("admin server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	api.HandleFunc("/relays", s.handleRelays).Methods(http.MethodGet)
	api.HandleFunc("/relays", s.handleSetAllRelays).Methods(http.MethodPut)
	api.HandleFunc("/relays/{ch:[0-9]+}", s.handleSetRelay).Methods(http.MethodPut)
	api.HandleFunc("/relays/{ch:[0-9]+}/toggle", s.handleToggleRelay).Methods(http.MethodPost)

	api.HandleFunc("/pressures", s.handlePressures).Methods(http.MethodGet)
	api.HandleFunc("/pressures/{ch:[0-9]+}", s.handlePressure).Methods(http.MethodGet)

	api.HandleFunc("/tests", s.handleTestStatus).Methods(http.MethodGet)
	api.HandleFunc("/tests", s.handleCancelTest).Methods(http.MethodDelete)
	api.HandleFunc("/tests/{kind:support|retract}", s.handleStartTest).Methods(http.MethodPost)

	api.HandleFunc("/reliability", s.handleReliabilityStats).Methods(http.MethodGet)
	api.HandleFunc("/reliability", s.handleStartReliability).Methods(http.MethodPost)
	api.HandleFunc("/reliability", s.handleStopReliability).Methods(http.MethodDelete)
	api.HandleFunc("/reliability/report", s.handleSaveReport).Methods(http.MethodPost)

	api.HandleFunc("/ws", s.handleEvents)
}

var (
	errBadRequest     = errors.New("bad request")
	errUnknownCommand = errors.New("unknown command")
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var opErr *health.OperationError
	switch {
	case errors.Is(err, gateway.ErrInvalidChannel), errors.Is(err, reliability.ErrInvalidParams),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrBusy), errors.Is(err, rig.ErrReliabilityRunning),
		errors.Is(err, reliability.ErrAlreadyRunning), errors.Is(err, reliability.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, rig.ErrNotInitialized), errors.Is(err, rig.ErrNotStarted), errors.As(err, &opErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func channel(r *http.Request) int {
	ch, _ := strconv.Atoi(mux.Vars(r)["ch"])
	return ch
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}

	return nil
}
