package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/hotpotato/go/internal/eventbus"
	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/mcdev12/hotpotato/go/internal/session"
)

type stubApp struct {
	session *models.GameSession
	err     error
}

func (a stubApp) State(context.Context) (*models.GameSession, error) { return a.session, a.err }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubConn bool

func (c stubConn) IsConnected() bool { return bool(c) }

type stubDriver struct {
	tick  session.Tick
	armed bool
}

func (d stubDriver) Status() (session.Tick, bool) { return d.tick, d.armed }

type stubElector bool

func (e stubElector) IsLeader() bool { return bool(e) }

type campaigningElector struct{ campaigns int64 }

func (e campaigningElector) IsLeader() bool   { return false }
func (e campaigningElector) Campaigns() int64 { return e.campaigns }

func playing() *models.GameSession {
	s := models.NewGameSession()
	s.Status = models.SessionStatusPlaying
	return s
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		app         stubApp
		opts        []Option
		wantHealthy bool
		wantErrors  int
	}{
		{
			name:        "store only",
			app:         stubApp{session: models.NewGameSession()},
			wantHealthy: true,
		},
		{
			name:        "store unreachable",
			app:         stubApp{err: errors.New("timeout")},
			wantHealthy: false,
			wantErrors:  1,
		},
		{
			name: "everything up",
			app:  stubApp{session: playing()},
			opts: []Option{
				WithNATS(stubConn(true)),
				WithDatabase(stubPinger{}),
				WithElector(stubElector(true)),
				WithDriver(stubDriver{tick: session.Tick{RemainingSec: 12}, armed: true}),
			},
			wantHealthy: true,
		},
		{
			name: "nats and database down",
			app:  stubApp{session: models.NewGameSession()},
			opts: []Option{
				WithNATS(stubConn(false)),
				WithDatabase(stubPinger{err: errors.New("connection refused")}),
			},
			wantHealthy: false,
			wantErrors:  2,
		},
		{
			name: "leader not clocking a running round",
			app:  stubApp{session: playing()},
			opts: []Option{
				WithElector(stubElector(true)),
				WithDriver(stubDriver{}),
			},
			wantHealthy: true,
			wantErrors:  1,
		},
		{
			name: "follower without clocks",
			app:  stubApp{session: playing()},
			opts: []Option{
				WithElector(stubElector(false)),
				WithDriver(stubDriver{}),
			},
			wantHealthy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := NewChecker(tt.app, tt.opts...).Check(context.Background())
			if status.Healthy != tt.wantHealthy {
				t.Errorf("healthy = %v, want %v (errors %v)", status.Healthy, tt.wantHealthy, status.Errors)
			}
			if len(status.Errors) != tt.wantErrors {
				t.Errorf("errors = %v, want %d", status.Errors, tt.wantErrors)
			}
		})
	}
}

func TestCheckReportsRecentPublishFailures(t *testing.T) {
	metrics := eventbus.NewCounterMetrics()
	metrics.RecordEventPublished("GameStarted", true, time.Millisecond)
	metrics.RecordEventPublished("GameEnded", false, time.Millisecond)

	clock := clockwork.NewFakeClockAt(time.Now())
	checker := NewChecker(stubApp{session: models.NewGameSession()}, WithCounters(metrics), WithClock(clock))

	status := checker.Check(context.Background())
	if !status.Healthy || len(status.Errors) != 1 {
		t.Fatalf("status = %+v", status)
	}
	if status.Checks.Events == nil || status.Checks.Events.Published != 1 || status.Checks.Events.Failed != 1 {
		t.Fatalf("events = %+v", status.Checks.Events)
	}

	clock.Advance(2 * time.Minute)
	if status := checker.Check(context.Background()); len(status.Errors) != 0 {
		t.Fatalf("old failure still reported: %v", status.Errors)
	}
}

func TestCheckReportsCampaigns(t *testing.T) {
	checker := NewChecker(stubApp{session: models.NewGameSession()}, WithElector(campaigningElector{campaigns: 3}))
	status := checker.Check(context.Background())
	if status.Checks.Leader || status.Checks.Campaigns != 3 {
		t.Fatalf("checks = %+v", status.Checks)
	}
}

func TestServeHTTP(t *testing.T) {
	healthy := NewChecker(stubApp{session: models.NewGameSession()})
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Healthy || body.Checks.SessionStatus != string(models.SessionStatusWaiting) {
		t.Fatalf("body = %+v", body)
	}

	unhealthy := NewChecker(stubApp{err: errors.New("down")})
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session store read failed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
