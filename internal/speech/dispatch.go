package speech

import "sync"

// dispatcher runs queued callbacks one at a time on its own goroutine. The
// queue is unbounded so the producer never blocks on a slow consumer.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.signal:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			fn()

			select {
			case <-d.stop:
				return
			default:
			}
		}
	}
}

// close stops the dispatcher after the callback in progress, if any.
// Queued callbacks are dropped.
func (d *dispatcher) close() {
	d.once.Do(func() { close(d.stop) })
}
