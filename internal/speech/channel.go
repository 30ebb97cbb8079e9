// Package speech is the narrow boundary between the turn engine and whatever
// synthesizes and recognizes speech for a candidate.
package speech

import (
	"context"
	"errors"
)

var (
	ErrUnsupported      = errors.New("speech capability unsupported")
	ErrMicrophoneDenied = errors.New("microphone access denied")
	ErrInterrupted      = errors.New("speech interrupted")
	ErrClosed           = errors.New("speech channel closed")
)

// Capabilities reports what the candidate's client can do
type Capabilities struct {
	SynthesisAvailable   bool `json:"synthesis"`
	RecognitionAvailable bool `json:"recognition"`
}

// Result is one recognition update. Partial results repeat the whole
// utterance so far; a final result closes it.
type Result struct {
	Text  string
	Final bool
}

// Channel is the speech capability consumed by the turn engine.
//
// Speak blocks until the text has been spoken, the context is done or the
// output is stopped. It returns ErrUnsupported when there is no synthesis.
// StartListening returns ErrUnsupported when there is no recognition;
// afterwards onResult receives results in order and onError receives
// recognition faults until StopListening.
type Channel interface {
	Speak(ctx context.Context, text string) error
	StopSpeaking()
	StartListening(onResult func(Result), onError func(error)) error
	StopListening()
	Capabilities() Capabilities
}

// TextChannel is the channel of the non-voice flow: nothing is spoken and
// answers arrive as typed text.
type TextChannel struct{}

// NewTextChannel creates a channel without synthesis or recognition
func NewTextChannel() *TextChannel {
	return &TextChannel{}
}

func (TextChannel) Speak(ctx context.Context, text string) error {
	return ErrUnsupported
}

func (TextChannel) StopSpeaking() {}

func (TextChannel) StartListening(onResult func(Result), onError func(error)) error {
	return ErrUnsupported
}

func (TextChannel) StopListening() {}

func (TextChannel) Capabilities() Capabilities {
	return Capabilities{}
}
