package engine

import (
	"sync"
	"time"

	"github.com/terra-clan/interview-engine/internal/models"
)

// EventType identifies what changed in an interview
type EventType string

const (
	EventState      EventType = "state"      // State moved
	EventEntry      EventType = "entry"      // A transcript line was appended
	EventTranscript EventType = "transcript" // Live recognition text changed
	EventNotice     EventType = "notice"     // Something the candidate should be told
	EventCompleted  EventType = "completed"  // The session was finalized
)

// Event is published to observers. Only the fields relevant to Type are set.
type Event struct {
	Type          EventType                 `json:"type"`
	InterviewID   string                    `json:"interview_id"`
	Timestamp     time.Time                 `json:"timestamp"`
	State         State                     `json:"state,omitempty"`
	QuestionIndex int                       `json:"question_index"`
	Entry         *models.ConversationEntry `json:"entry,omitempty"`
	Text          string                    `json:"text,omitempty"`
	Session       *models.InterviewSession  `json:"session,omitempty"`
}

// Observer receives engine events in order on a dedicated goroutine, so it
// may call back into the engine.
type Observer func(Event)

// publisher delivers events to one observer in order without blocking the engine
type publisher struct {
	observer Observer

	mu      sync.Mutex
	queue   []Event
	running bool
	idle    *sync.Cond
}

func newPublisher(o Observer) *publisher {
	p := &publisher{observer: o}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *publisher) publish(ev Event) {
	if p == nil || p.observer == nil {
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, ev)
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.drain()
}

func (p *publisher) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running = false
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		ev := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.observer(ev)
	}
}

// flush waits until every published event has been delivered
func (p *publisher) flush() {
	if p == nil {
		return
	}
	p.mu.Lock()
	for p.running {
		p.idle.Wait()
	}
	p.mu.Unlock()
}
