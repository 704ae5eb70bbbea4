package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
)

// startSweeper reaps expired sessions, rate-limit counters and dedup
// markers on a fixed interval inside the serving process, where the
// in-memory stores live. The returned stop function blocks until the
// sweeper goroutine has exited.
func startSweeper(app *application, clock clockz.Clock) (stop func()) {
	interval := app.cfg.Jobs.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			case <-clock.After(interval):
				runJob("sweep", func() error { return runSweep(app) })
			}
		}
	}()

	return func() {
		close(quit)
		<-done
	}
}

func runSweep(app *application) error {
	sessions := app.sessionStore.Sweep()
	counters := app.limiter.Sweep()

	markers := 0
	if app.markers != nil {
		markers = app.markers.Sweep()
	}

	logrus.WithFields(logrus.Fields{
		"sessions": sessions,
		"counters": counters,
		"markers":  markers,
	}).Info("sweep_reaped")
	return nil
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
