package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types on the speech websocket
const (
	// server -> client
	MsgSpeak        = "speak"
	MsgStopSpeaking = "stop_speaking"
	MsgListenStart  = "listen_start"
	MsgListenStop   = "listen_stop"
	MsgEvent        = "event"
	MsgError        = "error"

	// client -> server
	MsgHello            = "hello"
	MsgSpeechEnd        = "speech_end"
	MsgSpeechError      = "speech_error"
	MsgResult           = "result"
	MsgRecognitionError = "recognition_error"

	// client -> server, handed to the control handler
	MsgStartListening = "start_listening"
	MsgStopListening  = "stop_listening"
	MsgAnswer         = "answer"
	MsgEnd            = "end"
)

const writeWait = 10 * time.Second

// Message is the envelope for every frame in both directions
type Message struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Text        string `json:"text,omitempty"`
	Final       bool   `json:"final,omitempty"`
	Error       string `json:"error,omitempty"`
	Synthesis   bool   `json:"synthesis,omitempty"`
	Recognition bool   `json:"recognition,omitempty"`
	Event       any    `json:"event,omitempty"`
}

// ControlHandler receives the client's control messages
// (start_listening, stop_listening, answer, end)
type ControlHandler func(Message)

// SocketChannel drives the browser's speech APIs over a websocket
type SocketChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	caps      Capabilities
	pending   map[string]chan error
	onResult  func(Result)
	onError   func(error)
	listening bool
	listenGen uint64
	control   ControlHandler

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	results  *dispatcher
	controls *dispatcher
}

// NewSocketChannel wraps an upgraded connection. Call Run to start reading.
func NewSocketChannel(conn *websocket.Conn) *SocketChannel {
	return &SocketChannel{
		conn:     conn,
		pending:  make(map[string]chan error),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
		results:  newDispatcher(),
		controls: newDispatcher(),
	}
}

// OnControl sets the handler for control messages. Messages that arrive
// before a handler is set are dropped.
func (c *SocketChannel) OnControl(h ControlHandler) {
	c.mu.Lock()
	c.control = h
	c.mu.Unlock()
}

// Ready is closed once the client has announced its capabilities
func (c *SocketChannel) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when the connection is gone
func (c *SocketChannel) Done() <-chan struct{} {
	return c.closed
}

// Capabilities returns what the client announced in its hello
func (c *SocketChannel) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Send writes one message to the client
func (c *SocketChannel) Send(msg Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Speak asks the client to speak text and waits for speech_end
func (c *SocketChannel) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	if !c.caps.SynthesisAvailable {
		c.mu.Unlock()
		return ErrUnsupported
	}
	id := uuid.New().String()
	done := make(chan error, 1)
	c.pending[id] = done
	c.mu.Unlock()

	if err := c.Send(Message{Type: MsgSpeak, ID: id, Text: text}); err != nil {
		c.resolve(id, nil)
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.resolve(id, nil)
		c.Send(Message{Type: MsgStopSpeaking})
		return ctx.Err()
	case <-c.closed:
		return ErrInterrupted
	}
}

// StopSpeaking cancels speech output and releases every waiting Speak
func (c *SocketChannel) StopSpeaking() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan error)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- ErrInterrupted
	}
	c.Send(Message{Type: MsgStopSpeaking})
}

// StartListening starts recognition on the client
func (c *SocketChannel) StartListening(onResult func(Result), onError func(error)) error {
	c.mu.Lock()
	if !c.caps.RecognitionAvailable {
		c.mu.Unlock()
		return ErrUnsupported
	}
	c.listenGen++
	c.listening = true
	c.onResult = onResult
	c.onError = onError
	c.mu.Unlock()

	if err := c.Send(Message{Type: MsgListenStart}); err != nil {
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
		return fmt.Errorf("failed to start listening: %w", err)
	}
	return nil
}

// StopListening stops recognition. Results still queued for the stopped
// session are dropped.
func (c *SocketChannel) StopListening() {
	c.mu.Lock()
	wasListening := c.listening
	c.listening = false
	c.onResult = nil
	c.onError = nil
	c.mu.Unlock()

	if wasListening {
		c.Send(Message{Type: MsgListenStop})
	}
}

// Run reads client messages until the connection closes or ctx is done
func (c *SocketChannel) Run(ctx context.Context) error {
	defer c.Close()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("speech socket read failed: %w", err)
			}
			return nil
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("invalid speech message", "error", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *SocketChannel) handle(msg Message) {
	switch msg.Type {
	case MsgHello:
		c.mu.Lock()
		c.caps = Capabilities{SynthesisAvailable: msg.Synthesis, RecognitionAvailable: msg.Recognition}
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })

	case MsgSpeechEnd:
		c.resolve(msg.ID, nil)

	case MsgSpeechError:
		c.resolve(msg.ID, synthesisError(msg.Error))

	case MsgResult:
		c.mu.Lock()
		gen := c.listenGen
		c.mu.Unlock()
		result := Result{Text: msg.Text, Final: msg.Final}
		c.results.enqueue(func() {
			c.mu.Lock()
			cb := c.onResult
			current := c.listening && c.listenGen == gen
			c.mu.Unlock()
			if current && cb != nil {
				cb(result)
			}
		})

	case MsgRecognitionError:
		err := recognitionError(msg.Error)
		if err == nil {
			return
		}
		c.mu.Lock()
		gen := c.listenGen
		c.mu.Unlock()
		c.results.enqueue(func() {
			c.mu.Lock()
			cb := c.onError
			current := c.listening && c.listenGen == gen
			c.mu.Unlock()
			if current && cb != nil {
				cb(err)
			}
		})

	case MsgStartListening, MsgStopListening, MsgAnswer, MsgEnd:
		c.mu.Lock()
		h := c.control
		c.mu.Unlock()
		if h == nil {
			slog.Debug("control message without handler", "type", msg.Type)
			return
		}
		c.controls.enqueue(func() { h(msg) })

	default:
		slog.Debug("unknown speech message", "type", msg.Type)
	}
}

func (c *SocketChannel) resolve(id string, err error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if ok {
		ch <- err
	}
}

// Close shuts the connection and releases waiting speakers
func (c *SocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.results.close()
		c.controls.close()

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func synthesisError(code string) error {
	switch code {
	case "", "interrupted", "canceled":
		return ErrInterrupted
	case "synthesis-unavailable", "not-allowed", "language-unavailable", "voice-unavailable":
		return fmt.Errorf("%w: %s", ErrUnsupported, code)
	default:
		return fmt.Errorf("speech synthesis failed: %s", code)
	}
}

// recognitionError maps a Web Speech recognition error code. Benign codes
// map to nil.
func recognitionError(code string) error {
	switch code {
	case "no-speech", "aborted":
		return nil
	case "not-allowed", "service-not-allowed", "audio-capture":
		return fmt.Errorf("%w: %s", ErrMicrophoneDenied, code)
	default:
		return errors.New("speech recognition failed: " + code)
	}
}
