package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/hotpotato/go/internal/eventbus"
	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/mcdev12/hotpotato/go/internal/session"
	"github.com/rs/zerolog/log"
)

type StateReader interface {
	State(ctx context.Context) (*models.GameSession, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Connection is satisfied by *nats.Conn
type Connection interface {
	IsConnected() bool
}

type DriverStatus interface {
	Status() (session.Tick, bool)
}

type Elector interface {
	IsLeader() bool
}

type Checks struct {
	StoreReachable    bool               `json:"store_reachable"`
	SessionStatus     string             `json:"session_status,omitempty"`
	NATSConnected     *bool              `json:"nats_connected,omitempty"`
	DatabaseConnected *bool              `json:"database_connected,omitempty"`
	Leader            bool               `json:"leader"`
	Campaigns         int64              `json:"campaigns,omitempty"`
	DriverArmed       bool               `json:"driver_armed"`
	RemainingSec      int                `json:"remaining_sec,omitempty"`
	Events            *eventbus.Counters `json:"events,omitempty"`
}

type Status struct {
	Healthy bool     `json:"healthy"`
	Checks  Checks   `json:"checks"`
	Errors  []string `json:"errors"`
}

// Checker reports on the dependencies of one session instance. Every
// dependency is optional.
type Checker struct {
	app      StateReader
	nats     Connection
	db       Pinger
	driver   DriverStatus
	elector  Elector
	counters *eventbus.CounterMetrics
	clock    clockwork.Clock

	// A publish failure younger than this is reported.
	failureWindow time.Duration
}

type Option func(*Checker)

func WithNATS(conn Connection) Option        { return func(c *Checker) { c.nats = conn } }
func WithDatabase(db Pinger) Option          { return func(c *Checker) { c.db = db } }
func WithDriver(d DriverStatus) Option       { return func(c *Checker) { c.driver = d } }
func WithElector(e Elector) Option           { return func(c *Checker) { c.elector = e } }
func WithClock(clock clockwork.Clock) Option { return func(c *Checker) { c.clock = clock } }
func WithCounters(m *eventbus.CounterMetrics) Option {
	return func(c *Checker) { c.counters = m }
}

func NewChecker(app StateReader, opts ...Option) *Checker {
	c := &Checker{
		app:           app,
		clock:         clockwork.NewRealClock(),
		failureWindow: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (h *Checker) Check(ctx context.Context) Status {
	status := Status{
		Healthy: true,
		Errors:  []string{},
	}

	// Store
	if s, err := h.app.State(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("session store read failed: %v", err))
	} else {
		status.Checks.StoreReachable = true
		status.Checks.SessionStatus = string(s.Status)
	}

	if h.nats != nil {
		connected := h.nats.IsConnected()
		status.Checks.NATSConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.db != nil {
		connected := true
		if err := h.db.Ping(ctx); err != nil {
			connected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
		status.Checks.DatabaseConnected = &connected
	}

	if h.elector != nil {
		status.Checks.Leader = h.elector.IsLeader()
		if c, ok := h.elector.(interface{ Campaigns() int64 }); ok {
			status.Checks.Campaigns = c.Campaigns()
		}
	}
	if h.driver != nil {
		tick, armed := h.driver.Status()
		status.Checks.DriverArmed = armed
		status.Checks.RemainingSec = tick.RemainingSec
		// A leader that is not clocking a running round would never end it.
		if status.Checks.Leader && !armed && status.Checks.SessionStatus == string(models.SessionStatusPlaying) {
			status.Errors = append(status.Errors, "session is playing but the driver is not armed")
		}
	}

	if h.counters != nil {
		snapshot := h.counters.Snapshot()
		status.Checks.Events = &snapshot
		if snapshot.LastFailure != nil && h.clock.Since(*snapshot.LastFailure) < h.failureWindow {
			status.Errors = append(status.Errors, fmt.Sprintf("event publish failed at %s", snapshot.LastFailure.Format(time.RFC3339)))
		}
	}

	return status
}

func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
