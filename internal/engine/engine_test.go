package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/terra-clan/interview-engine/internal/ai"
	"github.com/terra-clan/interview-engine/internal/models"
	"github.com/terra-clan/interview-engine/internal/speech"
)

// fakeAI answers every capability call locally. Answers containing
// "wrong" are judged incorrect with score 30; everything else is correct
// with score 90. Utterances ending in "?" are candidate questions. The
// *Err fields make the matching call fail; hangValidate blocks validation
// until the call's context expires.
type fakeAI struct {
	mu              sync.Mutex
	validateCalls   int
	guidanceCalls   int
	evaluateCalls   int
	scores          []int // consumed first, overriding the default verdicts
	validateGate    chan struct{}
	validateEntered chan struct{}
	hangValidate    bool
	evaluateErr     error
	greetingErr     error
	classifyErr     error
	answerErr       error
	validateErr     error
	guidanceErr     error
	transitionErr   error
}

func (f *fakeAI) GenerateQuestions(ctx context.Context, profile *models.CandidateProfile) (models.QuestionProgress, error) {
	return nil, ai.ErrUnavailable
}

func (f *fakeAI) Greeting(ctx context.Context, profile *models.CandidateProfile, first *models.InterviewQuestion) (string, error) {
	if f.greetingErr != nil {
		return "", f.greetingErr
	}
	return "Welcome " + profile.PersonalInfo.Name + ". " + first.Question, nil
}

func (f *fakeAI) ClassifyUtterance(ctx context.Context, text string) (bool, error) {
	if f.classifyErr != nil {
		return false, f.classifyErr
	}
	return strings.HasSuffix(text, "?"), nil
}

func (f *fakeAI) AnswerCandidateQuestion(ctx context.Context, text string, profile *models.CandidateProfile) (string, error) {
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return "Good question. The team is small. Let's continue.", nil
}

func (f *fakeAI) ValidateAnswer(ctx context.Context, q *models.InterviewQuestion, answer string, profile *models.CandidateProfile) (*ai.Validation, error) {
	f.mu.Lock()
	f.validateCalls++
	gate := f.validateGate
	entered := f.validateEntered
	var score *int
	if len(f.scores) > 0 {
		s := f.scores[0]
		f.scores = f.scores[1:]
		score = &s
	}
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.hangValidate {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.validateErr != nil {
		return nil, f.validateErr
	}

	if score != nil {
		return &ai.Validation{IsCorrect: *score >= 70, Score: *score, Feedback: "scored"}, nil
	}
	if strings.Contains(answer, "wrong") {
		return &ai.Validation{IsCorrect: false, Score: 30, Feedback: "incorrect"}, nil
	}
	return &ai.Validation{IsCorrect: true, Score: 90, Feedback: "good"}, nil
}

func (f *fakeAI) Guidance(ctx context.Context, q *models.InterviewQuestion, answer string, profile *models.CandidateProfile) (string, error) {
	f.mu.Lock()
	f.guidanceCalls++
	f.mu.Unlock()
	if f.guidanceErr != nil {
		return "", f.guidanceErr
	}
	return "Think about concurrency. Please continue with your answer.", nil
}

func (f *fakeAI) Transition(ctx context.Context, next *models.InterviewQuestion, profile *models.CandidateProfile) (string, error) {
	if f.transitionErr != nil {
		return "", f.transitionErr
	}
	return "Next: " + next.Question, nil
}

func (f *fakeAI) EvaluateSession(ctx context.Context, transcript string, profile *models.CandidateProfile, progress models.QuestionProgress) (*ai.Evaluation, error) {
	f.mu.Lock()
	f.evaluateCalls++
	err := f.evaluateErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &ai.Evaluation{
		Scores:   models.SkillScores{Communication: 77, TechnicalKnowledge: 71, ProblemSolving: 70, Confidence: 80, ClarityOfThought: 75, OverallAccuracy: 100},
		Feedback: models.InterviewFeedback{Strengths: []string{"clear"}, CorrectAnswers: 99},
	}, nil
}

func (f *fakeAI) counts() (validate, guidance, evaluate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateCalls, f.guidanceCalls, f.evaluateCalls
}

// fakeChannel is a voice channel driven by the test
type fakeChannel struct {
	caps speech.Capabilities

	mu         sync.Mutex
	spoken     []string
	onResult   func(speech.Result)
	onError    func(error)
	listening  bool
	startCalls int
}

func (c *fakeChannel) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	c.spoken = append(c.spoken, text)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) StopSpeaking() {}

func (c *fakeChannel) StartListening(onResult func(speech.Result), onError func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = onResult
	c.onError = onError
	c.listening = true
	c.startCalls++
	return nil
}

func (c *fakeChannel) StopListening() {
	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()
}

func (c *fakeChannel) Capabilities() speech.Capabilities {
	return c.caps
}

func (c *fakeChannel) result(text string, final bool) {
	c.mu.Lock()
	cb := c.onResult
	c.mu.Unlock()
	if cb != nil {
		cb(speech.Result{Text: text, Final: final})
	}
}

func (c *fakeChannel) fail(err error) {
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (c *fakeChannel) isListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

func (c *fakeChannel) starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCalls
}

func (c *fakeChannel) spokenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spoken)
}

type memoryStore struct {
	mu    sync.Mutex
	saved []*models.InterviewSession
}

func (m *memoryStore) SaveInterview(ctx context.Context, s *models.InterviewSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

var profile = &models.CandidateProfile{
	ID:           "profile-1",
	PersonalInfo: models.PersonalInfo{Name: "Ada"},
	Skills:       []string{"Go", "SQL", "Redis"},
}

func testOptions() Options {
	return Options{
		SilenceWindow:   40 * time.Millisecond,
		SubmitCooldown:  0,
		CompletionDelay: 0,
		ListenDelay:     0,
		AITimeout:       time.Second,
	}
}

func newTextEngine(t *testing.T, f *fakeAI, store *memoryStore, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithOptions(testOptions())}, opts...)
	e := New("iv-test", f, speech.NewTextChannel(), store, opts...)
	t.Cleanup(func() { e.EndSession(context.Background()) })
	if err := e.Start(context.Background(), profile); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRequiresProfile(t *testing.T) {
	e := New("iv", &fakeAI{}, speech.NewTextChannel(), &memoryStore{})

	if err := e.Start(context.Background(), nil); !errors.Is(err, ErrNoProfileSelected) {
		t.Fatalf("expected ErrNoProfileSelected, got %v", err)
	}
	if e.State() != StateIdle {
		t.Errorf("expected idle, got %s", e.State())
	}
}

func TestStartTextMode(t *testing.T) {
	f := &fakeAI{}
	e := newTextEngine(t, f, &memoryStore{})

	snap := e.Snapshot()
	if snap.State != StateListening {
		t.Fatalf("expected listening, got %s", snap.State)
	}
	if !snap.TextMode {
		t.Error("expected text mode")
	}
	if snap.Session.TotalQuestions != models.TotalQuestions || snap.Session.QuestionProgress.Len() != models.TotalQuestions {
		t.Errorf("expected 25 questions, got %d", snap.Session.QuestionProgress.Len())
	}
	if len(snap.Session.Transcript) != 1 || !strings.HasPrefix(snap.Session.Transcript[0].Message, "Welcome Ada.") {
		t.Errorf("unexpected transcript %+v", snap.Session.Transcript)
	}
	if snap.CurrentQuestion == nil || snap.CurrentQuestion.ID != "intro_1" {
		t.Errorf("expected intro_1, got %+v", snap.CurrentQuestion)
	}

	if err := e.Start(context.Background(), profile); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestGreetingFallback(t *testing.T) {
	f := &fakeAI{greetingErr: ai.ErrUnavailable}
	e := newTextEngine(t, f, &memoryStore{})

	want := fmt.Sprintf(greetingFallback, "Ada")
	if got := e.Snapshot().Session.Transcript[0].Message; got != want {
		t.Errorf("expected fallback greeting, got %q", got)
	}
}

func TestSubmitAnswerAdvances(t *testing.T) {
	f := &fakeAI{}
	e := newTextEngine(t, f, &memoryStore{})

	if err := e.SubmitAnswer("  I design distributed systems  "); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}

	snap := e.Snapshot()
	if snap.State != StateListening || snap.QuestionIndex != 1 {
		t.Fatalf("expected listening at index 1, got %s at %d", snap.State, snap.QuestionIndex)
	}
	if snap.Session.CurrentQuestionIndex != 1 {
		t.Errorf("expected session index 1, got %d", snap.Session.CurrentQuestionIndex)
	}

	transcript := snap.Session.Transcript
	if len(transcript) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(transcript))
	}
	if transcript[1].Speaker != models.SpeakerCandidate || transcript[1].Message != "I design distributed systems" || transcript[1].QuestionID != "intro_1" {
		t.Errorf("unexpected candidate entry %+v", transcript[1])
	}
	if transcript[2].QuestionID != "intro_2" || !strings.HasPrefix(transcript[2].Message, "Next: ") {
		t.Errorf("unexpected transition entry %+v", transcript[2])
	}

	intro := snap.Session.QuestionProgress[models.CategoryIntroduction]
	if intro.Completed != 1 || *intro.Questions[0].Score != 90 {
		t.Errorf("expected first question recorded, got %+v", intro)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	f := &fakeAI{}
	opts := testOptions()
	opts.SubmitCooldown = 150 * time.Millisecond
	e := newTextEngine(t, f, &memoryStore{}, WithOptions(opts))

	if err := e.SubmitAnswer("   "); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("expected ErrEmptyAnswer, got %v", err)
	}
	if err := e.SubmitAnswer("my answer"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if err := e.SubmitAnswer("my answer"); !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("expected ErrDuplicateSubmission, got %v", err)
	}

	validate, _, _ := f.counts()
	if validate != 1 {
		t.Errorf("expected one validation, got %d", validate)
	}
	if n := len(e.Snapshot().Session.Transcript); n != 3 {
		t.Errorf("expected one entry pair after the greeting, got %d entries", n)
	}

	// the guard releases after the cooldown, and the same text may be
	// given as an answer to a later question
	waitFor(t, "guard release", func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return !e.inFlight && e.lastSubmitted == ""
	})
	if err := e.SubmitAnswer("my answer"); err != nil {
		t.Errorf("expected repeat on next question to be accepted, got %v", err)
	}
}

func TestConcurrentDuplicateDropped(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	f := &fakeAI{validateGate: gate, validateEntered: entered}
	e := newTextEngine(t, f, &memoryStore{})

	errc := make(chan error, 1)
	go func() { errc <- e.SubmitAnswer("final answer") }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("validation never started")
	}

	// the silence path delivers the same utterance while the final result is processing
	if err := e.SubmitAnswer("final answer"); !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("expected ErrDuplicateSubmission, got %v", err)
	}
	if e.State() != StateProcessing {
		t.Errorf("expected processing, got %s", e.State())
	}

	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	validate, _, _ := f.counts()
	if validate != 1 {
		t.Errorf("expected exactly one validation call, got %d", validate)
	}
	if n := len(e.Snapshot().Session.Transcript); n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestGuidanceOncePerQuestion(t *testing.T) {
	f := &fakeAI{scores: []int{40, 50}}
	e := newTextEngine(t, f, &memoryStore{})

	if err := e.SubmitAnswer("a weak answer"); err != nil {
		t.Fatalf("first answer failed: %v", err)
	}
	snap := e.Snapshot()
	if snap.QuestionIndex != 0 || !snap.GuidanceGiven {
		t.Fatalf("expected guidance at index 0, got index %d guidance %v", snap.QuestionIndex, snap.GuidanceGiven)
	}
	last := snap.Session.Transcript[len(snap.Session.Transcript)-1]
	if last.Speaker != models.SpeakerAI || !strings.Contains(last.Message, "Please continue with your answer") {
		t.Errorf("expected guidance entry, got %+v", last)
	}

	if err := e.SubmitAnswer("another weak answer"); err != nil {
		t.Fatalf("second answer failed: %v", err)
	}
	snap = e.Snapshot()
	if snap.QuestionIndex != 1 {
		t.Fatalf("expected advance to index 1, got %d", snap.QuestionIndex)
	}
	if snap.GuidanceGiven {
		t.Error("guidance flag should reset on advance")
	}

	validate, guidance, _ := f.counts()
	if validate != 2 || guidance != 1 {
		t.Errorf("expected 2 validations and 1 guidance, got %d and %d", validate, guidance)
	}

	q := snap.Session.QuestionProgress[models.CategoryIntroduction].Questions[0]
	if *q.Score != 40 || q.CandidateAnswer != "a weak answer" {
		t.Errorf("expected first attempt recorded, got %+v", q)
	}
	if snap.Session.QuestionProgress.CompletedCount() != 1 {
		t.Errorf("expected one completed question, got %d", snap.Session.QuestionProgress.CompletedCount())
	}
}

func TestCandidateQuestionKeepsIndex(t *testing.T) {
	f := &fakeAI{}
	e := newTextEngine(t, f, &memoryStore{})

	if err := e.SubmitAnswer("What does the team work on?"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}

	snap := e.Snapshot()
	if snap.QuestionIndex != 0 || snap.State != StateListening {
		t.Errorf("expected listening at index 0, got %s at %d", snap.State, snap.QuestionIndex)
	}
	if snap.Session.QuestionProgress.CompletedCount() != 0 {
		t.Error("a candidate question must not be recorded as an answer")
	}
	validate, _, _ := f.counts()
	if validate != 0 {
		t.Errorf("expected no validation, got %d", validate)
	}
	if n := len(snap.Session.Transcript); n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestStopAtQuestionFive(t *testing.T) {
	f := &fakeAI{evaluateErr: ai.ErrMalformedResponse}
	store := &memoryStore{}
	e := newTextEngine(t, f, store)

	answers := []string{"a0", "a1", "a2", "wrong3", "wrong3 again", "wrong4"}
	for _, a := range answers {
		if err := e.SubmitAnswer(a); err != nil {
			t.Fatalf("SubmitAnswer(%q) failed: %v", a, err)
		}
	}
	if idx := e.Snapshot().QuestionIndex; idx != 4 {
		t.Fatalf("expected index 4, got %d", idx)
	}

	final, err := e.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	if final.Status != models.SessionCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if final.TotalQuestions != 25 {
		t.Errorf("expected total 25, got %d", final.TotalQuestions)
	}
	if final.Feedback.CorrectAnswers != 3 || final.Feedback.TotalQuestions != 5 {
		t.Errorf("expected 3 of 5, got %d of %d", final.Feedback.CorrectAnswers, final.Feedback.TotalQuestions)
	}
	if final.Feedback.AccuracyPercentage != 60 || final.Scores.OverallAccuracy != 60 {
		t.Errorf("expected accuracy 60, got %d", final.Feedback.AccuracyPercentage)
	}
	// evaluation failed: fallback with base score 50
	if final.Scores.Communication != 40 || final.Scores.TechnicalKnowledge != 35 {
		t.Errorf("expected fallback scores, got %+v", final.Scores)
	}
	if store.count() != 1 {
		t.Errorf("expected one save, got %d", store.count())
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	f := &fakeAI{}
	store := &memoryStore{}
	e := newTextEngine(t, f, store)
	e.SubmitAnswer("hello")

	first, err := e.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	second, err := e.EndSession(context.Background())
	if err != nil {
		t.Fatalf("second EndSession failed: %v", err)
	}

	if first.ID != second.ID || first.Scores != second.Scores {
		t.Error("expected the same final session")
	}
	if first.Scores.Communication != 77 {
		t.Errorf("expected evaluator scores, got %+v", first.Scores)
	}
	if first.Feedback.CorrectAnswers != 1 {
		t.Errorf("expected computed correct answers, got %d", first.Feedback.CorrectAnswers)
	}
	_, _, evaluate := f.counts()
	if evaluate != 1 || store.count() != 1 {
		t.Errorf("expected one evaluation and one save, got %d and %d", evaluate, store.count())
	}

	select {
	case <-e.Done():
	default:
		t.Error("expected Done to be closed")
	}
	if e.State() != StateCompleted {
		t.Errorf("expected completed, got %s", e.State())
	}
	if err := e.SubmitAnswer("late"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if err := e.StartListening(); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestEndBeforeStart(t *testing.T) {
	store := &memoryStore{}
	e := New("iv", &fakeAI{}, speech.NewTextChannel(), store)

	if _, err := e.EndSession(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if store.count() != 0 {
		t.Error("nothing should be saved")
	}
	if err := e.Start(context.Background(), profile); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestEndWhileProcessing(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	f := &fakeAI{validateGate: gate, validateEntered: entered}
	store := &memoryStore{}
	e := newTextEngine(t, f, store)

	go e.SubmitAnswer("an answer in flight")
	<-entered

	final, err := e.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	if final.Feedback.TotalQuestions != 0 {
		t.Errorf("interrupted answer must not be recorded, got %d answered", final.Feedback.TotalQuestions)
	}
	if n := len(final.Transcript); n != 2 {
		t.Errorf("expected greeting and candidate entry, got %d", n)
	}
	if store.count() != 1 {
		t.Errorf("expected one save, got %d", store.count())
	}
}

func TestFullInterviewCompletes(t *testing.T) {
	f := &fakeAI{}
	store := &memoryStore{}
	e := newTextEngine(t, f, store)

	for i := 0; i < models.TotalQuestions; i++ {
		if err := e.SubmitAnswer(fmt.Sprintf("answer %d", i)); err != nil {
			t.Fatalf("answer %d failed: %v", i, err)
		}
	}

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("interview did not end after the last question")
	}

	final, err := e.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if final.Feedback.TotalQuestions != 25 || final.Feedback.AccuracyPercentage != 100 {
		t.Errorf("expected 25 answered at 100%%, got %d at %d%%", final.Feedback.TotalQuestions, final.Feedback.AccuracyPercentage)
	}
	if final.QuestionProgress.CompletedCount() != 25 {
		t.Errorf("expected 25 completed, got %d", final.QuestionProgress.CompletedCount())
	}
	for _, c := range models.CategoryOrder {
		cp := final.QuestionProgress[c]
		if cp.Completed != cp.Total {
			t.Errorf("%s: completed %d of %d", c, cp.Completed, cp.Total)
		}
	}

	// greeting, 25 answers, 24 transitions and the closing message
	transcript := final.Transcript
	if len(transcript) != 51 {
		t.Fatalf("expected 51 entries, got %d", len(transcript))
	}
	if transcript[50].Message != completionMessage {
		t.Errorf("expected completion message last, got %q", transcript[50].Message)
	}
	if store.count() != 1 {
		t.Errorf("expected one save, got %d", store.count())
	}
}

func TestAIFailuresFallBack(t *testing.T) {
	tests := []struct {
		name   string
		ai     *fakeAI
		answer string
		check  func(t *testing.T, snap Snapshot)
	}{
		{
			name:   "classification failure counts as an answer",
			ai:     &fakeAI{classifyErr: ai.ErrUnavailable},
			answer: "What stack does the team use?",
			check: func(t *testing.T, snap Snapshot) {
				if snap.QuestionIndex != 1 {
					t.Errorf("expected advance to index 1, got %d", snap.QuestionIndex)
				}
				q := snap.Session.QuestionProgress[models.CategoryIntroduction].Questions[0]
				if q.CandidateAnswer != "What stack does the team use?" {
					t.Errorf("expected utterance recorded as the answer, got %q", q.CandidateAnswer)
				}
			},
		},
		{
			name:   "validation failure records the fallback verdict",
			ai:     &fakeAI{validateErr: ai.ErrMalformedResponse},
			answer: "I build payment systems",
			check: func(t *testing.T, snap Snapshot) {
				q := snap.Session.QuestionProgress[models.CategoryIntroduction].Questions[0]
				if q.Score == nil || *q.Score != 75 || q.IsCorrect == nil || !*q.IsCorrect {
					t.Errorf("expected 75/correct, got %+v", q)
				}
				if q.Feedback != validationFallback.Feedback {
					t.Errorf("expected fallback feedback, got %q", q.Feedback)
				}
				if snap.QuestionIndex != 1 || snap.GuidanceGiven {
					t.Errorf("expected advance without guidance, got index %d guidance %v", snap.QuestionIndex, snap.GuidanceGiven)
				}
			},
		},
		{
			name:   "transition failure speaks the fixed transition",
			ai:     &fakeAI{transitionErr: ai.ErrUnavailable},
			answer: "I build payment systems",
			check: func(t *testing.T, snap Snapshot) {
				last := snap.Session.Transcript[len(snap.Session.Transcript)-1]
				want := fmt.Sprintf(transitionFallback, snap.CurrentQuestion.Question)
				if last.Message != want || last.QuestionID != "intro_2" {
					t.Errorf("expected %q for intro_2, got %+v", want, last)
				}
				if snap.QuestionIndex != 1 {
					t.Errorf("expected index 1, got %d", snap.QuestionIndex)
				}
			},
		},
		{
			name:   "guidance failure speaks the fixed guidance",
			ai:     &fakeAI{scores: []int{30}, guidanceErr: ai.ErrUnavailable},
			answer: "not sure",
			check: func(t *testing.T, snap Snapshot) {
				last := snap.Session.Transcript[len(snap.Session.Transcript)-1]
				if last.Message != guidanceFallback || last.QuestionID != "intro_1" {
					t.Errorf("expected fallback guidance on intro_1, got %+v", last)
				}
				if snap.QuestionIndex != 0 || !snap.GuidanceGiven {
					t.Errorf("expected guidance at index 0, got index %d guidance %v", snap.QuestionIndex, snap.GuidanceGiven)
				}
			},
		},
		{
			name:   "failed reply to a candidate question speaks the processing fallback",
			ai:     &fakeAI{answerErr: ai.ErrUnavailable},
			answer: "How big is the team?",
			check: func(t *testing.T, snap Snapshot) {
				last := snap.Session.Transcript[len(snap.Session.Transcript)-1]
				if last.Message != processingFallback || last.Speaker != models.SpeakerAI {
					t.Errorf("expected processing fallback, got %+v", last)
				}
				if snap.QuestionIndex != 0 || snap.Session.QuestionProgress.CompletedCount() != 0 {
					t.Errorf("expected index 0 with nothing recorded, got index %d", snap.QuestionIndex)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTextEngine(t, tt.ai, &memoryStore{})

			if err := e.SubmitAnswer(tt.answer); err != nil {
				t.Fatalf("SubmitAnswer failed: %v", err)
			}

			snap := e.Snapshot()
			if snap.State != StateListening {
				t.Errorf("expected listening, got %s", snap.State)
			}
			// greeting, the candidate's utterance and one reply
			if n := len(snap.Session.Transcript); n != 3 {
				t.Errorf("expected 3 entries, got %d", n)
			}
			if snap.Session.CurrentQuestionIndex != snap.QuestionIndex {
				t.Errorf("session index %d out of step with engine index %d", snap.Session.CurrentQuestionIndex, snap.QuestionIndex)
			}
			tt.check(t, snap)
		})
	}
}

func TestValidationTimeoutFallsBack(t *testing.T) {
	opts := testOptions()
	opts.AITimeout = 50 * time.Millisecond
	f := &fakeAI{hangValidate: true, classifyErr: ai.ErrUnavailable, transitionErr: ai.ErrMalformedResponse}
	e := newTextEngine(t, f, &memoryStore{}, WithOptions(opts))

	start := time.Now()
	if err := e.SubmitAnswer("I studied computer science"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("validation was not bounded by the AI timeout, took %s", elapsed)
	}

	snap := e.Snapshot()
	if snap.State != StateListening || snap.QuestionIndex != 1 {
		t.Fatalf("expected listening at index 1, got %s at %d", snap.State, snap.QuestionIndex)
	}
	q := snap.Session.QuestionProgress[models.CategoryIntroduction].Questions[0]
	if q.Score == nil || *q.Score != 75 {
		t.Errorf("expected fallback score 75, got %+v", q.Score)
	}
	last := snap.Session.Transcript[len(snap.Session.Transcript)-1]
	if want := fmt.Sprintf(transitionFallback, snap.CurrentQuestion.Question); last.Message != want {
		t.Errorf("expected %q, got %q", want, last.Message)
	}
}

func voiceEngine(t *testing.T, f *fakeAI, ch *fakeChannel, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithOptions(testOptions())}, opts...)
	e := New("iv-voice", f, ch, &memoryStore{}, opts...)
	t.Cleanup(func() { e.EndSession(context.Background()) })
	if err := e.Start(context.Background(), profile); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return e
}

func newVoiceChannel() *fakeChannel {
	return &fakeChannel{caps: speech.Capabilities{SynthesisAvailable: true, RecognitionAvailable: true}}
}

func TestVoiceFinalResultSubmits(t *testing.T) {
	f := &fakeAI{}
	ch := newVoiceChannel()
	e := voiceEngine(t, f, ch)

	if !ch.isListening() || e.State() != StateListening {
		t.Fatal("expected listening after the greeting")
	}
	if n := ch.spokenCount(); n != 1 {
		t.Fatalf("expected greeting spoken once, got %d", n)
	}

	ch.result("I have five", false)
	if got := e.Snapshot().LiveTranscript; got != "I have five" {
		t.Errorf("expected live transcript, got %q", got)
	}
	ch.result("I have five years of Go", true)

	// the silence window must not resubmit the same utterance
	time.Sleep(3 * testOptions().SilenceWindow)

	validate, _, _ := f.counts()
	if validate != 1 {
		t.Errorf("expected one validation, got %d", validate)
	}
	snap := e.Snapshot()
	if snap.QuestionIndex != 1 || snap.State != StateListening {
		t.Errorf("expected listening at index 1, got %s at %d", snap.State, snap.QuestionIndex)
	}
	if n := len(snap.Session.Transcript); n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}
	if n := ch.starts(); n != 2 {
		t.Errorf("expected listening re-armed once, got %d starts", n)
	}
}

func TestSilenceSubmitsPartial(t *testing.T) {
	f := &fakeAI{}
	ch := newVoiceChannel()
	e := voiceEngine(t, f, ch)

	ch.result("I led the migration", false)

	waitFor(t, "silence submission", func() bool {
		return e.Snapshot().QuestionIndex == 1
	})

	transcript := e.Snapshot().Session.Transcript
	if transcript[1].Message != "I led the migration" {
		t.Errorf("expected partial text submitted, got %q", transcript[1].Message)
	}
	validate, _, _ := f.counts()
	if validate != 1 {
		t.Errorf("expected one validation, got %d", validate)
	}
}

func TestBlankFinalKeepsSilenceWindow(t *testing.T) {
	f := &fakeAI{}
	ch := newVoiceChannel()
	e := voiceEngine(t, f, ch)

	ch.result("I led the migration to Postgres", false)
	ch.result("", true)

	waitFor(t, "silence submission", func() bool {
		return e.Snapshot().QuestionIndex == 1
	})

	if got := e.Snapshot().Session.Transcript[1].Message; got != "I led the migration to Postgres" {
		t.Errorf("expected pending partial submitted, got %q", got)
	}
	if validate, _, _ := f.counts(); validate != 1 {
		t.Errorf("expected one validation, got %d", validate)
	}
}

func TestSnapshotSilenceCountdown(t *testing.T) {
	ch := newVoiceChannel()
	opts := testOptions()
	opts.SilenceWindow = time.Second
	e := voiceEngine(t, &fakeAI{}, ch, WithOptions(opts))

	if left := e.Snapshot().SilenceLeftMS; left != 0 {
		t.Errorf("expected no countdown before speech, got %d", left)
	}

	ch.result("I mostly write Go", false)
	left := e.Snapshot().SilenceLeftMS
	if left <= 0 || left > 1000 {
		t.Errorf("expected countdown within the window, got %d", left)
	}

	ch.result("I mostly write Go services", true)
	if left := e.Snapshot().SilenceLeftMS; left != 0 {
		t.Errorf("expected countdown cleared after the final, got %d", left)
	}
}

func TestFinalDuringCooldownIsQueued(t *testing.T) {
	f := &fakeAI{}
	ch := newVoiceChannel()
	opts := testOptions()
	opts.SubmitCooldown = 200 * time.Millisecond
	e := voiceEngine(t, f, ch, WithOptions(opts))

	ch.result("I have five years of Go", true)
	if idx := e.Snapshot().QuestionIndex; idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}

	// the next answer arrives while the guard from the first is still held
	ch.result("I studied mathematics", true)
	if validate, _, _ := f.counts(); validate != 1 {
		t.Fatalf("expected the second answer held back, got %d validations", validate)
	}

	waitFor(t, "queued answer", func() bool {
		return e.Snapshot().QuestionIndex == 2
	})

	if validate, _, _ := f.counts(); validate != 2 {
		t.Errorf("expected two validations, got %d", validate)
	}
	q := e.Snapshot().Session.QuestionProgress[models.CategoryIntroduction].Questions[1]
	if q.CandidateAnswer != "I studied mathematics" {
		t.Errorf("expected queued answer recorded on intro_2, got %q", q.CandidateAnswer)
	}

	// a repeat of an already processed utterance is not queued
	time.Sleep(opts.SubmitCooldown / 4)
	ch.result("I studied mathematics", true)
	time.Sleep(opts.SubmitCooldown + 3*opts.SilenceWindow)
	if validate, _, _ := f.counts(); validate != 2 {
		t.Errorf("expected the repeat dropped, got %d validations", validate)
	}
}

func TestSilenceWithoutSpeech(t *testing.T) {
	f := &fakeAI{}
	ch := newVoiceChannel()
	e := voiceEngine(t, f, ch)

	ch.result("   ", false)
	time.Sleep(3 * testOptions().SilenceWindow)

	snap := e.Snapshot()
	if snap.State != StateListening {
		t.Errorf("expected listening, got %s", snap.State)
	}
	if n := len(snap.Session.Transcript); n != 1 {
		t.Errorf("expected only the greeting, got %d entries", n)
	}
	validate, _, _ := f.counts()
	if validate != 0 {
		t.Errorf("expected no validation, got %d", validate)
	}
}

func TestMicrophoneDenied(t *testing.T) {
	var mu sync.Mutex
	var notices []string
	observer := func(ev Event) {
		if ev.Type == EventNotice {
			mu.Lock()
			notices = append(notices, ev.Text)
			mu.Unlock()
		}
	}

	f := &fakeAI{}
	ch := newVoiceChannel()
	e := voiceEngine(t, f, ch, WithObserver(observer))

	ch.fail(speech.ErrMicrophoneDenied)
	e.pub.flush()

	snap := e.Snapshot()
	if snap.State != StateListening || snap.Listening {
		t.Errorf("expected listening state without recognition, got %s listening=%v", snap.State, snap.Listening)
	}
	if ch.isListening() {
		t.Error("expected recognition stopped")
	}
	mu.Lock()
	if len(notices) != 1 || notices[0] != noticeMicDenied {
		t.Errorf("expected microphone notice, got %v", notices)
	}
	mu.Unlock()

	// results from the failed session are ignored
	ch.result("stale", true)
	if validate, _, _ := f.counts(); validate != 0 {
		t.Errorf("expected stale result dropped, got %d validations", validate)
	}

	if err := e.StartListening(); err != nil {
		t.Fatalf("manual retry failed: %v", err)
	}
	if !ch.isListening() || ch.starts() != 2 {
		t.Errorf("expected recognition restarted, got %d starts", ch.starts())
	}
	if n := len(e.Snapshot().Session.Transcript); n != 1 {
		t.Errorf("transcript must be untouched, got %d entries", n)
	}
}

func TestManualStopListening(t *testing.T) {
	f := &fakeAI{}
	ch := newVoiceChannel()
	e := voiceEngine(t, f, ch)

	if err := e.StopListening(); err != nil {
		t.Fatalf("StopListening failed: %v", err)
	}
	if ch.isListening() || e.Snapshot().Listening {
		t.Error("expected recognition stopped")
	}

	ch.result("ignored", false)
	time.Sleep(3 * testOptions().SilenceWindow)
	if validate, _, _ := f.counts(); validate != 0 {
		t.Errorf("expected no submission after stop, got %d", validate)
	}

	if err := e.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if !ch.isListening() {
		t.Error("expected recognition restarted")
	}
}

func TestTextModeRejectsManualListening(t *testing.T) {
	e := newTextEngine(t, &fakeAI{}, &memoryStore{})
	if err := e.StartListening(); !errors.Is(err, speech.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestObserverReceivesEvents(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	observer := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	e := newTextEngine(t, &fakeAI{}, &memoryStore{}, WithObserver(observer))
	e.SubmitAnswer("an answer")
	e.EndSession(context.Background())
	e.pub.flush()

	mu.Lock()
	defer mu.Unlock()

	var entries, completed int
	for _, ev := range events {
		if ev.InterviewID != "iv-test" {
			t.Errorf("unexpected interview id %q", ev.InterviewID)
		}
		switch ev.Type {
		case EventEntry:
			entries++
		case EventCompleted:
			completed++
			if ev.Session == nil || ev.Session.Status != models.SessionCompleted {
				t.Error("expected completed session on the event")
			}
		}
	}
	if entries != 3 || completed != 1 {
		t.Errorf("expected 3 entries and 1 completion, got %d and %d", entries, completed)
	}
	if events[0].Type != EventState || events[0].State != StatePreparing {
		t.Errorf("expected preparing first, got %+v", events[0])
	}
}
