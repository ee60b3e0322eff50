package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/hookd/internal/metrics"
	"github.com/loykin/hookd/internal/webhook"
)

const (
	DefaultBuffer      = 256
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher is a registry observer that forwards events to sinks from a
// single background goroutine. OnEvent never blocks: when the buffer is
// full the event is dropped and counted.
type Dispatcher struct {
	logger *slog.Logger
	ch     chan Event

	mu    sync.RWMutex
	sinks []Sink

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

func NewDispatcher(buffer int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:  logger,
		ch:      make(chan Event, buffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	d.SetSinks(sinks...)
	go d.run()
	return d
}

// SetSinks replaces the sink set.
func (d *Dispatcher) SetSinks(sinks ...Sink) {
	d.mu.Lock()
	d.sinks = append([]Sink(nil), sinks...)
	d.mu.Unlock()
}

func (d *Dispatcher) OnEvent(e webhook.Event) {
	d.Publish(FromRegistry(e))
}

// Publish enqueues e; it returns false when e was dropped.
func (d *Dispatcher) Publish(e Event) bool {
	select {
	case <-d.closing:
		return false
	default:
	}
	select {
	case d.ch <- e:
		return true
	default:
		metrics.IncHistoryDropped()
		d.logger.Warn("history buffer full, dropping event", "type", e.Type, "path", e.Record.ContextPath)
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case e := <-d.ch:
			d.send(e)
		case <-d.closing:
			for {
				select {
				case e := <-d.ch:
					d.send(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) send(e Event) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		if err := s.Send(ctx, e); err != nil {
			d.logger.Warn("history sink send failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close drains buffered events and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closing) })
	<-d.done
}
