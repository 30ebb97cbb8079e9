// Package engine runs one spoken interview: it alternates AI turns and
// candidate turns, arbitrates between recognition results, silence timers
// and manual controls, and drives the session through the question set.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/interview-engine/internal/ai"
	"github.com/terra-clan/interview-engine/internal/metrics"
	"github.com/terra-clan/interview-engine/internal/models"
	"github.com/terra-clan/interview-engine/internal/pause"
	"github.com/terra-clan/interview-engine/internal/questionbank"
	"github.com/terra-clan/interview-engine/internal/recorder"
	"github.com/terra-clan/interview-engine/internal/speech"
)

// State is the turn engine's position in the interview
type State string

const (
	StateIdle             State = "idle"
	StatePreparing        State = "preparing"
	StateAISpeaking       State = "ai_speaking"
	StateListening        State = "listening"
	StateProcessing       State = "processing"
	StateGuidanceSpeaking State = "guidance_speaking"
	StateCompleted        State = "completed"
)

// passScore is the lowest score that does not earn a guidance round
const passScore = 70

const (
	greetingFallback   = "Hello %s, welcome to your AI interview session. Let's start with an introduction - tell me about yourself and your background."
	processingFallback = "I apologize, but I had trouble processing that. Could you please repeat your response?"
	completionMessage  = "Thank you for completing the interview! Your responses have been recorded and analyzed. Let me provide you with detailed feedback on your performance."
	transitionFallback = "Thank you. Next question: %s"
	guidanceFallback   = "Thank you for sharing that. Try to be more specific and walk me through a concrete example from your own work. Please continue with your answer."
)

const (
	noticeTextMode     = "Speech is not available in this session. Type your answers instead."
	noticeMicDenied    = "Microphone access was denied. Allow microphone access, then start listening again."
	noticeRecognition  = "Speech recognition stopped unexpectedly. Start listening again to continue."
	noticeSpeechOutput = "Speech output is not available. Questions will be shown as text."
)

var validationFallback = questionbank.Verdict{
	IsCorrect: true,
	Score:     75,
	Feedback:  "Answer received and processed",
}

// Options holds the engine's timing
type Options struct {
	SilenceWindow   time.Duration // quiet period that ends an utterance
	SubmitCooldown  time.Duration // guard hold time after an answer was processed
	CompletionDelay time.Duration // pause between the closing message and EndSession
	ListenDelay     time.Duration // pause between AI speech and recognition
	AITimeout       time.Duration // bound on every AI call
}

// DefaultOptions returns the production timing
func DefaultOptions() Options {
	return Options{
		SilenceWindow:   pause.DefaultWindow,
		SubmitCooldown:  time.Second,
		CompletionDelay: 3 * time.Second,
		ListenDelay:     500 * time.Millisecond,
		AITimeout:       30 * time.Second,
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithOptions replaces the timing
func WithOptions(o Options) Option {
	return func(e *Engine) {
		e.opts = o
	}
}

// WithObserver subscribes to engine events
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.pub = newPublisher(o)
	}
}

// WithMetrics records interview metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the base logger; interview_id is added to it
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// Snapshot is a consistent copy of the engine's state
type Snapshot struct {
	ID              string                    `json:"id"`
	State           State                     `json:"state"`
	QuestionIndex   int                       `json:"question_index"`
	CurrentQuestion *models.InterviewQuestion `json:"current_question,omitempty"`
	Listening       bool                      `json:"listening"`
	TextMode        bool                      `json:"text_mode"`
	LiveTranscript  string                    `json:"live_transcript,omitempty"`
	SilenceLeftMS   int64                     `json:"silence_left_ms,omitempty"`
	GuidanceGiven   bool                      `json:"guidance_given"`
	Session         *models.InterviewSession  `json:"session,omitempty"`
}

// Engine owns one interview session from Start to EndSession
type Engine struct {
	id       string
	ai       ai.Capability
	ch       speech.Channel
	bank     *questionbank.Bank
	recorder *recorder.Recorder
	opts     Options
	metrics  *metrics.Metrics
	pub      *publisher
	log      *slog.Logger
	pause    *pause.Detector

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	profile        *models.CandidateProfile
	session        *models.InterviewSession
	index          int
	current        *models.InterviewQuestion
	caps           speech.Capabilities
	guidanceGiven  bool
	inFlight       bool
	lastSubmitted  string
	queued         string // utterance heard while the guard was held
	queuedGen      uint64
	speaking       bool
	autoListen     bool
	completing     bool
	listening      bool
	listenGen      uint64
	listenTimer    *time.Timer
	liveTranscript string
	outputNotified bool
	started        bool
	ending         bool
	timers         map[*time.Timer]struct{}

	busy    sync.WaitGroup
	endOnce sync.Once
	final   *models.InterviewSession
	endErr  error
	done    chan struct{}
}

// New creates an engine for one session. store receives the finalized
// session exactly once.
func New(id string, capability ai.Capability, ch speech.Channel, store recorder.Store, opts ...Option) *Engine {
	if id == "" {
		id = uuid.New().String()
	}

	e := &Engine{
		id:       id,
		ai:       capability,
		ch:       ch,
		bank:     questionbank.New(capability),
		recorder: recorder.New(store),
		opts:     DefaultOptions(),
		log:      slog.Default(),
		state:    StateIdle,
		timers:   make(map[*time.Timer]struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.log = e.log.With("interview_id", id)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.pause = pause.NewDetector(e.opts.SilenceWindow, e.onSilence)
	return e
}

// ID returns the interview id
func (e *Engine) ID() string {
	return e.id
}

// State returns the current state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed once the session has been finalized
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Capabilities returns the speech capabilities the session runs with
func (e *Engine) Capabilities() speech.Capabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

// Snapshot returns a deep copy of the engine's state
func (e *Engine) Snapshot() Snapshot {
	silence := e.pause.Remaining()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		ID:             e.id,
		State:          e.state,
		QuestionIndex:  e.index,
		Listening:      e.listening,
		TextMode:       !e.caps.RecognitionAvailable,
		LiveTranscript: e.liveTranscript,
		GuidanceGiven:  e.guidanceGiven,
		Session:        e.session.Clone(),
	}
	if e.listening {
		snap.SilenceLeftMS = silence.Milliseconds()
	}
	if e.current != nil {
		q := *e.current
		snap.CurrentQuestion = &q
	}
	return snap
}

// Start prepares the session and speaks the greeting. It returns once the
// greeting has been spoken and listening is armed.
func (e *Engine) Start(ctx context.Context, profile *models.CandidateProfile) error {
	if profile == nil {
		return ErrNoProfileSelected
	}

	caps := e.ch.Capabilities()

	e.mu.Lock()
	if e.ending {
		e.mu.Unlock()
		return ErrSessionEnded
	}
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.state = StatePreparing
	e.profile = profile
	e.caps = caps
	e.started = true
	e.busy.Add(1)
	e.mu.Unlock()
	defer e.busy.Done()

	e.metrics.InterviewStarted()
	e.emitState(StatePreparing)
	e.log.Info("interview preparing",
		"profile_id", profile.ID,
		"synthesis", caps.SynthesisAvailable,
		"recognition", caps.RecognitionAvailable,
	)

	if !caps.SynthesisAvailable || !caps.RecognitionAvailable {
		e.notice(noticeTextMode)
	}

	aiCtx, cancel := e.aiContext(ctx)
	progress, generated := e.bank.Build(aiCtx, profile)
	cancel()

	first := questionbank.Next(progress, 0)
	firstCopy := *first

	aiCtx, cancel = e.aiContext(ctx)
	greeting, err := e.ai.Greeting(aiCtx, profile, &firstCopy)
	cancel()
	if err != nil || strings.TrimSpace(greeting) == "" {
		e.log.Warn("greeting generation failed, using fallback", "error", err)
		greeting = fmt.Sprintf(greetingFallback, profile.PersonalInfo.Name)
	}

	e.mu.Lock()
	if e.ending {
		e.mu.Unlock()
		return ErrSessionEnded
	}
	e.session = &models.InterviewSession{
		ID:                   e.id,
		Date:                 time.Now().UTC(),
		Transcript:           []models.ConversationEntry{},
		Status:               models.SessionActive,
		ResumeID:             profile.ID,
		QuestionProgress:     progress,
		CurrentQuestionIndex: 0,
		TotalQuestions:       models.TotalQuestions,
	}
	e.index = 0
	e.current = first
	e.mu.Unlock()

	e.log.Info("interview started", "generated_questions", generated)
	e.metrics.QuestionAsked()
	e.appendEntry(models.SpeakerAI, greeting, &firstCopy)
	e.speak(greeting, StateAISpeaking, true)
	return nil
}

// SubmitAnswer is the single entry point for a finished candidate
// utterance, whether it came from a final recognition result, the silence
// timer or typed text. It returns once the answer has been processed and
// the reply spoken. Duplicate and blank submissions are dropped with an
// error and leave the session untouched.
func (e *Engine) SubmitAnswer(text string) error {
	text = strings.TrimSpace(text)

	e.mu.Lock()
	if err := e.admitLocked(text); err != nil {
		e.mu.Unlock()
		e.dropped(err)
		return err
	}
	e.inFlight = true
	e.lastSubmitted = text
	wasListening := e.listening
	e.listening = false
	e.listenGen++
	e.liveTranscript = ""
	e.state = StateProcessing
	e.busy.Add(1)
	e.mu.Unlock()

	e.pause.Stop()
	if wasListening {
		e.ch.StopListening()
	}
	e.emitState(StateProcessing)

	e.process(text)
	return nil
}

func (e *Engine) admitLocked(text string) error {
	switch {
	case e.ending || e.state == StateCompleted:
		return ErrSessionEnded
	case e.state == StateIdle || e.state == StatePreparing:
		return ErrNotStarted
	case text == "":
		return ErrEmptyAnswer
	case e.inFlight, text == e.lastSubmitted:
		return ErrDuplicateSubmission
	case e.state != StateListening:
		return ErrNotListening
	}
	return nil
}

func (e *Engine) dropped(err error) {
	reason := "not_listening"
	switch {
	case errors.Is(err, ErrEmptyAnswer):
		reason = "empty"
	case errors.Is(err, ErrDuplicateSubmission):
		reason = "duplicate"
	case errors.Is(err, ErrSessionEnded):
		reason = "ended"
	case errors.Is(err, ErrNotStarted):
		reason = "not_started"
	}
	e.metrics.SubmissionDropped(reason)
	e.log.Debug("submission dropped", "reason", reason)
}

func (e *Engine) process(text string) {
	defer e.busy.Done()
	defer e.release()

	e.mu.Lock()
	q := *e.current
	profile := e.profile
	e.mu.Unlock()

	e.appendEntry(models.SpeakerCandidate, text, &q)

	if e.isCandidateQuestion(text) {
		ctx, cancel := e.aiContext(e.ctx)
		reply, err := e.ai.AnswerCandidateQuestion(ctx, text, profile)
		cancel()
		if err != nil || strings.TrimSpace(reply) == "" {
			e.log.Warn("answering candidate question failed", "error", err)
			reply = processingFallback
		}
		if e.isEnding() {
			return
		}
		e.appendEntry(models.SpeakerAI, reply, nil)
		e.speak(reply, StateAISpeaking, true)
		return
	}

	verdict := e.validate(&q, text, profile)
	if e.isEnding() {
		return
	}

	e.mu.Lock()
	recorded := questionbank.Record(e.session.QuestionProgress, e.current, text, verdict)
	guide := (!verdict.IsCorrect || verdict.Score < passScore) && !e.guidanceGiven
	if guide {
		e.guidanceGiven = true
	}
	e.mu.Unlock()

	e.metrics.AnswerValidated(verdict.IsCorrect)
	e.log.Info("answer validated",
		"question_id", q.ID,
		"correct", verdict.IsCorrect,
		"score", verdict.Score,
		"recorded", recorded,
		"guidance", guide,
	)

	if guide {
		e.giveGuidance(&q, text, profile)
		return
	}
	e.advance(profile)
}

// isCandidateQuestion classifies an utterance. Classification failures
// count as an answer.
func (e *Engine) isCandidateQuestion(text string) bool {
	ctx, cancel := e.aiContext(e.ctx)
	defer cancel()

	isQuestion, err := e.ai.ClassifyUtterance(ctx, text)
	if err != nil {
		e.log.Warn("utterance classification failed, treating as answer", "error", err)
		return false
	}
	return isQuestion
}

func (e *Engine) validate(q *models.InterviewQuestion, text string, profile *models.CandidateProfile) questionbank.Verdict {
	ctx, cancel := e.aiContext(e.ctx)
	defer cancel()

	v, err := e.ai.ValidateAnswer(ctx, q, text, profile)
	if err != nil {
		e.log.Warn("answer validation failed, using fallback verdict", "question_id", q.ID, "error", err)
		return validationFallback
	}
	return questionbank.Verdict{IsCorrect: v.IsCorrect, Score: v.Score, Feedback: v.Feedback}
}

func (e *Engine) giveGuidance(q *models.InterviewQuestion, text string, profile *models.CandidateProfile) {
	ctx, cancel := e.aiContext(e.ctx)
	guidance, err := e.ai.Guidance(ctx, q, text, profile)
	cancel()
	if err != nil || strings.TrimSpace(guidance) == "" {
		e.log.Warn("guidance generation failed, using fallback", "question_id", q.ID, "error", err)
		guidance = guidanceFallback
	}
	if e.isEnding() {
		return
	}

	e.metrics.GuidanceGiven()
	e.appendEntry(models.SpeakerAI, guidance, q)
	e.speak(guidance, StateGuidanceSpeaking, true)
}

func (e *Engine) advance(profile *models.CandidateProfile) {
	e.mu.Lock()
	nextIndex := e.index + 1
	next := questionbank.Next(e.session.QuestionProgress, nextIndex)
	e.mu.Unlock()

	if next == nil {
		e.complete()
		return
	}
	nextCopy := *next

	ctx, cancel := e.aiContext(e.ctx)
	transition, err := e.ai.Transition(ctx, &nextCopy, profile)
	cancel()
	if err != nil || strings.TrimSpace(transition) == "" {
		e.log.Warn("transition generation failed, using fallback", "question_id", nextCopy.ID, "error", err)
		transition = fmt.Sprintf(transitionFallback, nextCopy.Question)
	}

	e.mu.Lock()
	if e.ending {
		e.mu.Unlock()
		return
	}
	e.index = nextIndex
	e.current = next
	e.guidanceGiven = false
	e.session.CurrentQuestionIndex = nextIndex
	e.mu.Unlock()

	e.metrics.QuestionAsked()
	e.appendEntry(models.SpeakerAI, transition, &nextCopy)
	e.speak(transition, StateAISpeaking, true)
}

// complete speaks the closing message and schedules EndSession
func (e *Engine) complete() {
	e.mu.Lock()
	e.completing = true
	e.mu.Unlock()

	e.log.Info("question set finished")
	e.appendEntry(models.SpeakerAI, completionMessage, nil)
	e.speak(completionMessage, StateAISpeaking, false)
	e.after(e.opts.CompletionDelay, func() {
		if _, err := e.EndSession(context.Background()); err != nil {
			e.log.Error("failed to end completed interview", "error", err)
		}
	})
}

// release clears the submission guard after the cooldown
func (e *Engine) release() {
	reset := func() {
		e.mu.Lock()
		e.inFlight = false
		e.lastSubmitted = ""
		queued := e.queued
		current := e.queuedGen == e.listenGen && e.state == StateListening && !e.ending
		e.queued = ""
		e.mu.Unlock()

		if queued != "" && current {
			go e.submitHeard(queued)
		}
	}
	if e.opts.SubmitCooldown <= 0 {
		reset()
		return
	}
	e.after(e.opts.SubmitCooldown, reset)
}

// speak runs one AI turn. When rearm is set, listening starts once the
// speech has finished.
func (e *Engine) speak(text string, state State, rearm bool) {
	e.mu.Lock()
	if e.ending {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.autoListen = rearm
	synthesis := e.caps.SynthesisAvailable
	e.speaking = synthesis
	e.mu.Unlock()

	e.emitState(state)

	var err error
	if synthesis {
		err = e.ch.Speak(e.ctx, text)
	}

	e.mu.Lock()
	e.speaking = false
	e.mu.Unlock()

	switch {
	case err == nil:
	case e.ctx.Err() != nil:
		return
	case errors.Is(err, speech.ErrUnsupported):
		e.mu.Lock()
		e.caps.SynthesisAvailable = false
		notify := !e.outputNotified
		e.outputNotified = true
		e.mu.Unlock()
		if notify {
			e.notice(noticeSpeechOutput)
		}
	case errors.Is(err, speech.ErrInterrupted):
		e.log.Debug("speech interrupted")
	default:
		e.log.Warn("speech output failed", "error", err)
	}

	e.mu.Lock()
	if e.ending || !e.autoListen {
		e.mu.Unlock()
		return
	}
	e.autoListen = false
	delayed := synthesis && err == nil && e.opts.ListenDelay > 0
	if delayed {
		e.listenTimer = e.afterLocked(e.opts.ListenDelay, e.beginListening)
	}
	e.mu.Unlock()

	if !delayed {
		e.beginListening()
	}
}

// beginListening opens a candidate turn: stale pause timers and the live
// transcript are cleared before recognition starts.
func (e *Engine) beginListening() {
	e.mu.Lock()
	if e.ending {
		e.mu.Unlock()
		return
	}
	e.listenTimer = nil
	e.state = StateListening
	e.liveTranscript = ""
	e.listenGen++
	gen := e.listenGen
	voice := e.caps.RecognitionAvailable
	e.listening = voice
	e.mu.Unlock()

	e.pause.Reset()
	e.emitState(StateListening)

	if !voice {
		return
	}

	if err := e.ch.StartListening(e.resultHandler(gen), e.errorHandler(gen)); err != nil {
		e.recognitionFailed(gen, err)
		return
	}

	// EndSession may have stopped the channel before recognition started
	if e.isEnding() {
		e.ch.StopListening()
	}
}

func (e *Engine) resultHandler(gen uint64) func(speech.Result) {
	return func(r speech.Result) {
		// A blank final leaves the pending partial to the silence window
		if r.Final && strings.TrimSpace(r.Text) == "" {
			return
		}

		e.mu.Lock()
		if e.ending || !e.listening || gen != e.listenGen || e.state != StateListening {
			e.mu.Unlock()
			return
		}
		e.liveTranscript = r.Text
		e.mu.Unlock()

		e.publish(Event{Type: EventTranscript, Text: r.Text})

		if !r.Final {
			e.pause.OnPartialUpdate(r.Text)
			return
		}

		e.pause.OnFinal(r.Text)
		e.submitHeard(r.Text)
	}
}

// submitHeard submits a recognized utterance. A new utterance that arrives
// while the guard from the previous answer is still held is queued and
// submitted when the guard releases.
func (e *Engine) submitHeard(text string) {
	err := e.SubmitAnswer(text)
	if err == nil {
		return
	}
	if errors.Is(err, ErrDuplicateSubmission) {
		text = strings.TrimSpace(text)
		e.mu.Lock()
		if e.inFlight && e.state == StateListening && text != e.lastSubmitted {
			e.queued = text
			e.queuedGen = e.listenGen
			e.mu.Unlock()
			e.log.Debug("utterance queued until the submission guard releases")
			return
		}
		e.mu.Unlock()
	}
	e.log.Debug("utterance not submitted", "error", err)
}

func (e *Engine) errorHandler(gen uint64) func(error) {
	return func(err error) {
		e.recognitionFailed(gen, err)
	}
}

// recognitionFailed leaves the engine in Listening without recognition,
// awaiting a manual StartListening.
func (e *Engine) recognitionFailed(gen uint64, err error) {
	e.mu.Lock()
	if e.ending || gen != e.listenGen {
		e.mu.Unlock()
		return
	}
	wasListening := e.listening
	e.listening = false
	e.listenGen++
	if errors.Is(err, speech.ErrUnsupported) {
		e.caps.RecognitionAvailable = false
	}
	e.mu.Unlock()

	e.pause.Stop()
	if wasListening {
		e.ch.StopListening()
	}

	switch {
	case errors.Is(err, speech.ErrMicrophoneDenied):
		e.log.Warn("microphone denied", "error", err)
		e.notice(noticeMicDenied)
	case errors.Is(err, speech.ErrUnsupported):
		e.log.Warn("speech recognition unsupported", "error", err)
		e.notice(noticeTextMode)
	default:
		e.log.Warn("speech recognition failed", "error", err)
		e.notice(noticeRecognition)
	}
}

func (e *Engine) onSilence(text string) {
	e.log.Debug("silence window elapsed")
	e.submitHeard(text)
}

// StartListening is the manual override to (re)start recognition. During
// AI speech it cuts the speech short and listens right away.
func (e *Engine) StartListening() error {
	e.mu.Lock()
	switch {
	case e.ending || e.completing || e.state == StateCompleted:
		e.mu.Unlock()
		return ErrSessionEnded
	case e.state == StateIdle || e.state == StatePreparing:
		e.mu.Unlock()
		return ErrNotStarted
	case !e.caps.RecognitionAvailable:
		e.mu.Unlock()
		return speech.ErrUnsupported
	case e.speaking:
		e.autoListen = true
		e.mu.Unlock()
		e.ch.StopSpeaking()
		return nil
	case e.state == StateProcessing:
		e.mu.Unlock()
		return ErrNotListening
	case e.listening:
		e.mu.Unlock()
		return nil
	}
	e.stopListenTimerLocked()
	e.mu.Unlock()

	e.beginListening()
	return nil
}

// StopListening is the manual override to stop recognition. It also
// cancels the automatic listen after the current AI turn.
func (e *Engine) StopListening() error {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.autoListen = false
	e.stopListenTimerLocked()
	wasListening := e.listening
	e.listening = false
	e.listenGen++
	e.liveTranscript = ""
	e.mu.Unlock()

	e.pause.Stop()
	if wasListening {
		e.ch.StopListening()
	}
	return nil
}

// EndSession stops the interview, scores it and hands the record to
// storage. It waits for an answer being processed to finish. Calling it
// again returns the same result.
func (e *Engine) EndSession(ctx context.Context) (*models.InterviewSession, error) {
	e.endOnce.Do(func() {
		e.final, e.endErr = e.end(ctx)
		close(e.done)
	})
	<-e.done
	return e.final.Clone(), e.endErr
}

func (e *Engine) end(ctx context.Context) (*models.InterviewSession, error) {
	e.mu.Lock()
	e.ending = true
	started := e.started
	wasListening := e.listening
	e.listening = false
	e.listenGen++
	e.mu.Unlock()

	e.pause.Stop()
	e.cancelTimers()
	if wasListening {
		e.ch.StopListening()
	}
	e.ch.StopSpeaking()

	e.mu.Lock()
	e.autoListen = false
	e.mu.Unlock()

	e.cancel()
	e.busy.Wait()

	e.mu.Lock()
	session := e.session.Clone()
	profile := e.profile
	e.mu.Unlock()

	if !started || session == nil {
		e.mu.Lock()
		e.state = StateCompleted
		e.mu.Unlock()
		e.emitState(StateCompleted)
		if started {
			e.metrics.InterviewReleased()
		}
		return nil, ErrNotStarted
	}

	scores, feedback, evaluation := e.evaluate(ctx, session, profile)
	final := recorder.Finalize(session, scores, feedback, time.Now().UTC())

	e.mu.Lock()
	e.session = final
	e.state = StateCompleted
	e.mu.Unlock()

	e.metrics.InterviewCompleted(evaluation)
	e.metrics.InterviewReleased()
	e.emitState(StateCompleted)
	e.publish(Event{Type: EventCompleted, Session: final.Clone()})

	e.log.Info("interview ended",
		"evaluation", evaluation,
		"answered", final.Feedback.TotalQuestions,
		"accuracy", final.Feedback.AccuracyPercentage,
		"duration_min", final.Duration,
	)

	if err := e.recorder.Handoff(ctx, final); err != nil {
		e.log.Error("failed to save interview", "error", err)
		return final, err
	}
	return final, nil
}

// evaluate scores the session. It needs a transcript and a question set;
// without them the scores stay zero.
func (e *Engine) evaluate(ctx context.Context, session *models.InterviewSession, profile *models.CandidateProfile) (models.SkillScores, models.InterviewFeedback, string) {
	if len(session.Transcript) == 0 || session.QuestionProgress == nil {
		return models.SkillScores{}, models.InterviewFeedback{}, "skipped"
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.opts.AITimeout)
	defer cancel()

	result, err := e.ai.EvaluateSession(evalCtx, recorder.Transcript(session.Transcript), profile, session.QuestionProgress)
	if err != nil {
		e.log.Warn("session evaluation failed, using fallback scores", "error", err)
		scores, feedback := recorder.FallbackEvaluation(session.QuestionProgress)
		return scores, feedback, "fallback"
	}
	return result.Scores, result.Feedback, "ai"
}

func (e *Engine) appendEntry(speaker models.Speaker, message string, q *models.InterviewQuestion) {
	entry := models.ConversationEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Speaker:   speaker,
		Message:   message,
	}
	if q != nil {
		entry.QuestionID = q.ID
		entry.Category = q.Category
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return
	}
	e.session.Transcript = append(e.session.Transcript, entry)
	e.mu.Unlock()

	e.publish(Event{Type: EventEntry, Entry: &entry})
}

func (e *Engine) notice(text string) {
	e.publish(Event{Type: EventNotice, Text: text})
}

func (e *Engine) emitState(s State) {
	e.publish(Event{Type: EventState, State: s})
}

func (e *Engine) publish(ev Event) {
	ev.InterviewID = e.id
	ev.Timestamp = time.Now().UTC()
	e.mu.Lock()
	ev.QuestionIndex = e.index
	e.mu.Unlock()
	e.pub.publish(ev)
}

func (e *Engine) isEnding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ending
}

// aiContext bounds one AI call by the timeout and by the engine's lifetime
func (e *Engine) aiContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, e.opts.AITimeout)
	stop := context.AfterFunc(e.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// after runs fn once d has elapsed unless the engine is ending first
func (e *Engine) after(d time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterLocked(d, fn)
}

func (e *Engine) afterLocked(d time.Duration, fn func()) *time.Timer {
	if e.ending {
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.mu.Lock()
		_, live := e.timers[t]
		delete(e.timers, t)
		e.mu.Unlock()
		if live {
			fn()
		}
	})
	e.timers[t] = struct{}{}
	return t
}

func (e *Engine) stopListenTimerLocked() {
	if e.listenTimer == nil {
		return
	}
	e.listenTimer.Stop()
	delete(e.timers, e.listenTimer)
	e.listenTimer = nil
}

func (e *Engine) cancelTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for t := range e.timers {
		t.Stop()
	}
	clear(e.timers)
	e.listenTimer = nil
}
