package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/interview-engine/internal/engine"
	"github.com/terra-clan/interview-engine/internal/interview"
	"github.com/terra-clan/interview-engine/internal/speech"
)

const (
	helloTimeout   = 10 * time.Second
	completedGrace = 2 * time.Second
	endTimeout     = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// voiceSession ties one websocket to the interview it drives
type voiceSession struct {
	server *Server
	ch     *speech.SocketChannel

	mu        sync.Mutex
	id        string
	completed chan struct{}
	closeOnce sync.Once
}

func (v *voiceSession) interviewID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id
}

// observe forwards engine events to the browser in order
func (v *voiceSession) observe(ev engine.Event) {
	v.mu.Lock()
	if v.id == "" {
		v.id = ev.InterviewID
	}
	v.mu.Unlock()

	if err := v.ch.Send(speech.Message{Type: speech.MsgEvent, Event: ev}); err != nil {
		slog.Debug("failed to forward interview event", "error", err, "type", ev.Type)
	}

	if ev.Type == engine.EventCompleted {
		v.closeOnce.Do(func() { close(v.completed) })
	}
}

// control handles the browser's start/stop/answer/end messages
func (v *voiceSession) control(msg speech.Message) {
	id := v.interviewID()
	if id == "" {
		v.sendError("interview is still starting")
		return
	}

	var err error
	switch msg.Type {
	case speech.MsgStartListening:
		err = v.server.interviews.StartListening(id)
	case speech.MsgStopListening:
		err = v.server.interviews.StopListening(id)
	case speech.MsgAnswer:
		err = v.server.interviews.Submit(id, msg.Text)
		if dropReason(err) != "" {
			slog.Debug("typed answer dropped", "interview_id", id, "error", err)
			return
		}
	case speech.MsgEnd:
		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		defer cancel()
		_, err = v.server.interviews.End(ctx, id)
		if errors.Is(err, interview.ErrInterviewNotFound) {
			return
		}
	}

	if err != nil {
		slog.Debug("speech control failed", "interview_id", id, "type", msg.Type, "error", err)
		v.sendError(err.Error())
	}
}

func (v *voiceSession) sendError(message string) {
	if err := v.ch.Send(speech.Message{Type: speech.MsgError, Error: message}); err != nil {
		slog.Debug("failed to send speech error", "error", err)
	}
}

func (v *voiceSession) end(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()

	if _, err := v.server.interviews.End(ctx, id); err != nil &&
		!errors.Is(err, interview.ErrInterviewNotFound) &&
		!errors.Is(err, engine.ErrNotStarted) {
		slog.Error("failed to end interview after disconnect", "error", err, "interview_id", id)
	}
}

// handleInterviewWS runs a voice interview over a websocket. The browser
// announces its speech capabilities with a hello message; the interview
// starts once it has. Leaving the socket ends the interview.
func (s *Server) handleInterviewWS(w http.ResponseWriter, r *http.Request) {
	profileID := r.URL.Query().Get("profile_id")
	if profileID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "profile_id is required")
		return
	}

	profile, err := s.repo.GetProfile(r.Context(), profileID)
	if err != nil {
		slog.Error("failed to get profile", "error", err, "profile_id", profileID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to get profile")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile_not_found", "profile not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}

	ch := speech.NewSocketChannel(conn)
	defer ch.Close()

	v := &voiceSession{server: s, ch: ch, completed: make(chan struct{})}
	ch.OnControl(v.control)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ch.Run(ctx); err != nil {
			slog.Debug("speech socket closed", "error", err)
		}
	}()

	slog.Info("speech websocket connected", "profile_id", profileID)

	select {
	case <-ch.Ready():
	case <-ch.Done():
		return
	case <-time.After(helloTimeout):
		v.sendError("no hello received")
		return
	}

	type started struct {
		engine *engine.Engine
		err    error
	}
	result := make(chan started, 1)
	go func() {
		e, err := s.interviews.Start(ctx, profileID, ch, v.observe)
		result <- started{e, err}
	}()

	var e *engine.Engine
	select {
	case res := <-result:
		if res.err != nil {
			slog.Warn("voice interview failed to start", "error", res.err, "profile_id", profileID)
			v.sendError(res.err.Error())
			return
		}
		e = res.engine
	case <-ch.Done():
		cancel()
		if res := <-result; res.err == nil {
			v.end(res.engine.ID())
		}
		return
	}

	select {
	case <-ch.Done():
		v.end(e.ID())
	case <-e.Done():
		select {
		case <-v.completed:
		case <-ch.Done():
		case <-time.After(completedGrace):
		}
	}

	slog.Info("speech websocket disconnected", "interview_id", e.ID())
}
