// Package interview keeps the live interview engines of this process and
// mirrors their state to the shared live store.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/terra-clan/interview-engine/internal/ai"
	"github.com/terra-clan/interview-engine/internal/engine"
	"github.com/terra-clan/interview-engine/internal/metrics"
	"github.com/terra-clan/interview-engine/internal/models"
	"github.com/terra-clan/interview-engine/internal/speech"
)

// Common errors
var (
	ErrInterviewNotFound = errors.New("interview not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrAtCapacity        = errors.New("too many live interviews")
	ErrShuttingDown      = errors.New("interview manager is shutting down")
)

// Interview modes
const (
	ModeText  = "text"
	ModeVoice = "voice"
)

const mirrorTimeout = 2 * time.Second

// Repository is the persistence the manager needs
type Repository interface {
	GetProfile(ctx context.Context, id string) (*models.CandidateProfile, error)
	SaveInterview(ctx context.Context, s *models.InterviewSession) error
}

// LiveStore receives snapshots of running interviews
type LiveStore interface {
	Put(ctx context.Context, live *models.LiveInterview) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.LiveInterview, error)
}

// Config holds manager configuration
type Config struct {
	Engine        engine.Options
	MaxConcurrent int64
}

// Manager owns every live engine in the process
type Manager struct {
	ai      ai.Capability
	repo    Repository
	live    LiveStore
	metrics *metrics.Metrics
	cfg     Config
	sem     *semaphore.Weighted

	mu         sync.RWMutex
	interviews map[string]*liveInterview
	closed     bool
	wg         sync.WaitGroup
}

type liveInterview struct {
	engine    *engine.Engine
	profileID string
	mode      string
	startedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	finished     bool
}

func (li *liveInterview) touch() {
	li.mu.Lock()
	li.lastActivity = time.Now().UTC()
	li.mu.Unlock()
}

func (li *liveInterview) idleSince() time.Time {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.lastActivity
}

func (li *liveInterview) model() *models.LiveInterview {
	snap := li.engine.Snapshot()
	// a started engine reports what its channel still supports
	mode := li.mode
	if snap.State != engine.StateIdle {
		mode = modeOf(li.engine.Capabilities())
	}
	return &models.LiveInterview{
		ID:           li.engine.ID(),
		ProfileID:    li.profileID,
		Mode:         mode,
		State:        string(snap.State),
		StartedAt:    li.startedAt,
		LastActivity: li.idleSince(),
		Session:      snap.Session,
	}
}

func modeOf(caps speech.Capabilities) string {
	if caps.SynthesisAvailable && caps.RecognitionAvailable {
		return ModeVoice
	}
	return ModeText
}

// NewManager creates a manager. live and m may be nil.
func NewManager(capability ai.Capability, repo Repository, live LiveStore, m *metrics.Metrics, cfg Config) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}

	return &Manager{
		ai:         capability,
		repo:       repo,
		live:       live,
		metrics:    m,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		interviews: make(map[string]*liveInterview),
	}
}

// Start creates an engine for the profile on ch and runs it through the
// greeting. The engine is registered before the greeting so callers can
// look it up while it speaks. obs may be nil.
func (m *Manager) Start(ctx context.Context, profileID string, ch speech.Channel, obs engine.Observer) (*engine.Engine, error) {
	profile, err := m.repo.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}

	if !m.sem.TryAcquire(1) {
		return nil, ErrAtCapacity
	}

	mode := modeOf(ch.Capabilities())

	now := time.Now().UTC()
	li := &liveInterview{
		profileID:    profile.ID,
		mode:         mode,
		startedAt:    now,
		lastActivity: now,
	}

	id := uuid.New().String()
	li.engine = engine.New(id, m.ai, ch, m.repo,
		engine.WithOptions(m.cfg.Engine),
		engine.WithMetrics(m.metrics),
		engine.WithObserver(m.observer(li, obs)),
	)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.sem.Release(1)
		return nil, ErrShuttingDown
	}
	m.interviews[id] = li
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(li)

	slog.Info("interview created",
		"interview_id", id,
		"profile_id", profile.ID,
		"mode", mode,
	)
	m.mirror(li)

	if err := li.engine.Start(ctx, profile); err != nil {
		if !errors.Is(err, engine.ErrSessionEnded) {
			li.engine.EndSession(context.Background())
		}
		return nil, err
	}

	return li.engine, nil
}

// watch unregisters an interview once its engine has finalized
func (m *Manager) watch(li *liveInterview) {
	defer m.wg.Done()
	<-li.engine.Done()

	id := li.engine.ID()
	m.mu.Lock()
	delete(m.interviews, id)
	m.mu.Unlock()
	m.sem.Release(1)

	m.forget(id)
	slog.Info("interview released", "interview_id", id)
}

// observer mirrors engine events to the live store before handing them on
func (m *Manager) observer(li *liveInterview, next engine.Observer) engine.Observer {
	return func(ev engine.Event) {
		switch ev.Type {
		case engine.EventEntry, engine.EventTranscript:
			li.touch()
		}

		li.mu.Lock()
		if ev.Type == engine.EventState && ev.State == engine.StateCompleted {
			li.finished = true
		}
		finished := li.finished
		li.mu.Unlock()

		if finished {
			m.forget(li.engine.ID())
		} else if ev.Type != engine.EventTranscript {
			m.mirror(li)
		}

		if next != nil {
			next(ev)
		}
	}
}

func (m *Manager) mirror(li *liveInterview) {
	if m.live == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := m.live.Put(ctx, li.model()); err != nil {
		slog.Warn("failed to mirror live interview", "interview_id", li.engine.ID(), "error", err)
	}
}

func (m *Manager) forget(id string) {
	if m.live == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := m.live.Delete(ctx, id); err != nil {
		slog.Warn("failed to remove live interview", "interview_id", id, "error", err)
	}
}

func (m *Manager) lookup(id string) (*liveInterview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	li, ok := m.interviews[id]
	if !ok {
		return nil, ErrInterviewNotFound
	}
	return li, nil
}

// Get returns the live engine for id
func (m *Manager) Get(id string) (*engine.Engine, error) {
	li, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return li.engine, nil
}

// Live returns the snapshot of one interview running in this process
func (m *Manager) Live(id string) (*models.LiveInterview, error) {
	li, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return li.model(), nil
}

// Submit hands a typed answer to the engine and waits for it to be processed
func (m *Manager) Submit(id, text string) error {
	li, err := m.lookup(id)
	if err != nil {
		return err
	}
	li.touch()
	return li.engine.SubmitAnswer(text)
}

// StartListening is the manual listening override
func (m *Manager) StartListening(id string) error {
	li, err := m.lookup(id)
	if err != nil {
		return err
	}
	li.touch()
	return li.engine.StartListening()
}

// StopListening is the manual stop override
func (m *Manager) StopListening(id string) error {
	li, err := m.lookup(id)
	if err != nil {
		return err
	}
	li.touch()
	return li.engine.StopListening()
}

// End finalizes an interview and returns its stored record
func (m *Manager) End(ctx context.Context, id string) (*models.InterviewSession, error) {
	li, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return li.engine.EndSession(ctx)
}

// List returns running interviews. With a live store it covers every
// replica; otherwise only this process.
func (m *Manager) List(ctx context.Context) ([]*models.LiveInterview, error) {
	if m.live != nil {
		return m.live.List(ctx)
	}

	m.mu.RLock()
	all := make([]*liveInterview, 0, len(m.interviews))
	for _, li := range m.interviews {
		all = append(all, li)
	}
	m.mu.RUnlock()

	result := make([]*models.LiveInterview, 0, len(all))
	for _, li := range all {
		result = append(result, li.model())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// Count returns how many interviews run in this process
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.interviews)
}

// Idle returns ids of interviews with no candidate activity for longer than timeout
func (m *Manager) Idle(timeout time.Duration) []string {
	cutoff := time.Now().UTC().Add(-timeout)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, li := range m.interviews {
		if li.idleSince().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close ends every live interview and refuses new ones
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	engines := make([]*engine.Engine, 0, len(m.interviews))
	for _, li := range m.interviews {
		engines = append(engines, li.engine)
	}
	m.mu.Unlock()

	slog.Info("ending live interviews", "count", len(engines))

	var g errgroup.Group
	for _, e := range engines {
		e := e
		g.Go(func() error {
			_, err := e.EndSession(ctx)
			if err != nil && !errors.Is(err, engine.ErrNotStarted) {
				return fmt.Errorf("interview %s: %w", e.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	m.wg.Wait()
	return err
}
