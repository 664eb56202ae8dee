package cluster

import (
	"context"
	"os"
	"testing"
	"time"

	consul "github.com/hashicorp/consul/api"
	"github.com/jonboulle/clockwork"
)

func TestStandaloneAlwaysLeads(t *testing.T) {
	if !(Standalone{}).IsLeader() {
		t.Fatal("standalone elector must lead")
	}
}

func TestDriverKey(t *testing.T) {
	if got := DriverKey("session.hot-potato-game"); got != "service/hotpotato/session.hot-potato-game/driver" {
		t.Fatalf("DriverKey = %s", got)
	}
}

func TestNewConsulClientWithoutAgents(t *testing.T) {
	if _, err := NewConsulClient(" , "); err == nil {
		t.Fatal("expected error for empty address list")
	}
	if _, err := NewConsulClient("127.0.0.1:1"); err == nil {
		t.Fatal("expected error for unreachable agent")
	}
}

func TestConsulElectorWaitsBeforeRetrying(t *testing.T) {
	cfg := DefaultConsulConfig()
	cfg.Addresses = "127.0.0.1:1"
	client, err := consul.NewClient(&consul.Config{Address: cfg.Addresses})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	clock := clockwork.NewFakeClock()
	e, err := newConsulElector(client, "retry", cfg, clock)
	if err != nil {
		t.Fatalf("newConsulElector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	// The failed campaign parks on the retry wait.
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("elector did not back off: %v", err)
	}
	if got := e.Campaigns(); got != 1 {
		t.Fatalf("campaigns = %d, want 1 before the retry wait elapses", got)
	}
	if e.IsLeader() {
		t.Fatal("elector leads without a lock")
	}

	clock.Advance(cfg.RetryWait)
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("elector did not back off again: %v", err)
	}
	if got := e.Campaigns(); got != 2 {
		t.Fatalf("campaigns = %d, want 2", got)
	}

	cancel()
	<-done
}

func TestConsulElectorSingleLeader(t *testing.T) {
	addr := os.Getenv("HOTPOTATO_TEST_CONSUL_ADDR")
	if addr == "" {
		t.Skip("HOTPOTATO_TEST_CONSUL_ADDR not set")
	}

	cfg := DefaultConsulConfig()
	cfg.Addresses = addr
	cfg.RetryWait = 100 * time.Millisecond
	session := "test-" + time.Now().Format("150405.000000")

	a, err := NewConsulElector(session, cfg)
	if err != nil {
		t.Fatalf("NewConsulElector: %v", err)
	}
	b, err := NewConsulElector(session, cfg)
	if err != nil {
		t.Fatalf("NewConsulElector: %v", err)
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	doneA := make(chan struct{})
	go func() { a.Run(ctxA); close(doneA) }()
	go b.Run(ctxB)

	deadline := time.Now().Add(10 * time.Second)
	for !a.IsLeader() && !b.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("no leader elected")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if a.IsLeader() && b.IsLeader() {
		t.Fatal("two leaders")
	}

	if a.IsLeader() {
		cancelA()
		<-doneA
		deadline = time.Now().Add(20 * time.Second)
		for !b.IsLeader() {
			if time.Now().After(deadline) {
				t.Fatal("leadership did not move after the leader stepped down")
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	cancelA()
}
