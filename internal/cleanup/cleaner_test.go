package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/terra-clan/interview-engine/internal/models"
)

type fakeReaper struct {
	mu      sync.Mutex
	idle    []string
	failing map[string]bool
	ended   []string
	timeout time.Duration
}

func (f *fakeReaper) Idle(timeout time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = timeout
	ids := f.idle
	f.idle = nil
	return ids
}

func (f *fakeReaper) End(ctx context.Context, id string) (*models.InterviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[id] {
		return nil, errors.New("boom")
	}
	f.ended = append(f.ended, id)
	return &models.InterviewSession{ID: id, Status: models.SessionCompleted}, nil
}

func (f *fakeReaper) endedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

func TestCleanupEndsIdleInterviews(t *testing.T) {
	r := &fakeReaper{
		idle:    []string{"a", "b", "c"},
		failing: map[string]bool{"b": true},
	}
	c := NewCleaner(r, time.Minute, 10*time.Minute)

	if n := c.cleanup(context.Background()); n != 2 {
		t.Fatalf("expected 2 ended, got %d", n)
	}

	ended := r.endedIDs()
	if len(ended) != 2 || ended[0] != "a" || ended[1] != "c" {
		t.Errorf("unexpected ended ids: %v", ended)
	}
	if r.timeout != 10*time.Minute {
		t.Errorf("expected idle timeout 10m, got %v", r.timeout)
	}
}

func TestCleanupNothingIdle(t *testing.T) {
	c := NewCleaner(&fakeReaper{}, 0, 0)
	if n := c.cleanup(context.Background()); n != 0 {
		t.Errorf("expected 0 ended, got %d", n)
	}
	if c.interval != time.Minute || c.idleTimeout != 30*time.Minute {
		t.Errorf("unexpected defaults: %v %v", c.interval, c.idleTimeout)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	r := &fakeReaper{idle: []string{"x"}}
	c := NewCleaner(r, time.Hour, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.endedIDs()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cleanup did not run on start")
}
