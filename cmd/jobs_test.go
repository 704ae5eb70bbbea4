package cmd

import (
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/ratelimit"
	"github.com/vibast-solutions/ms-go-checkout/app/session"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

func TestSweeperReapsServingStores(t *testing.T) {
	clock := clockz.NewFakeClock()
	sessions := session.NewMemoryStore(time.Minute, clock)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultRules(), clock)

	sessions.Set("tok-1", &entity.SessionCredential{ReferenceID: "order_p1_1_abc"})
	limiter.Allow(ratelimit.ActionCardInitiation, "203.0.113.9")

	app := &application{
		cfg:          &config.Config{Jobs: config.JobsConfig{SweepInterval: 5 * time.Minute}},
		sessionStore: sessions,
		limiter:      limiter,
	}

	stop := startSweeper(app, clock)
	defer stop()

	// Let the sweeper goroutine register its timer before advancing.
	time.Sleep(10 * time.Millisecond)
	clock.Advance(time.Hour)
	clock.BlockUntilReady()

	deadline := time.Now().Add(2 * time.Second)
	for sessions.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := sessions.Len(); n != 0 {
		t.Fatalf("expected expired sessions reaped, %d remain", n)
	}
}

func TestSweeperStopTerminates(t *testing.T) {
	clock := clockz.NewFakeClock()
	app := &application{
		cfg:          &config.Config{Jobs: config.JobsConfig{SweepInterval: time.Minute}},
		sessionStore: session.NewMemoryStore(time.Minute, clock),
		limiter:      ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultRules(), clock),
	}

	stop := startSweeper(app, clock)

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
