package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/interview-engine/internal/models"
)

// Reaper is the part of the interview manager the cleaner drives
type Reaper interface {
	Idle(timeout time.Duration) []string
	End(ctx context.Context, id string) (*models.InterviewSession, error)
}

// Cleaner periodically ends interviews nobody is talking to anymore
type Cleaner struct {
	reaper      Reaper
	interval    time.Duration
	idleTimeout time.Duration
}

// NewCleaner creates a new cleanup worker
func NewCleaner(reaper Reaper, interval, idleTimeout time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Minute
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}

	return &Cleaner{
		reaper:      reaper,
		interval:    interval,
		idleTimeout: idleTimeout,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "idle_timeout", c.idleTimeout)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup ends idle interviews. An ended interview is still scored and saved.
func (c *Cleaner) cleanup(ctx context.Context) int {
	slog.Debug("running cleanup cycle")

	idle := c.reaper.Idle(c.idleTimeout)
	if len(idle) == 0 {
		slog.Debug("no idle interviews found")
		return 0
	}

	slog.Info("found idle interviews", "count", len(idle))

	ended := 0
	for _, id := range idle {
		if ctx.Err() != nil {
			break
		}

		session, err := c.reaper.End(ctx, id)
		if err != nil {
			slog.Error("failed to end idle interview",
				"error", err,
				"interview_id", id,
			)
			continue
		}

		ended++
		if session != nil {
			slog.Info("idle interview ended",
				"interview_id", id,
				"answered", session.Feedback.TotalQuestions,
				"duration_min", session.Duration,
			)
		}
	}
	return ended
}
