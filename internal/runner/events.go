package runner

import (
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"github.com/eapache/queue"
)

// EventKind names a notification.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventRunProgress  EventKind = "run_progress"
	EventStepStarted  EventKind = "step_started"
	EventStepProgress EventKind = "step_progress"
	EventDataReady    EventKind = "data_ready"
	EventStepFinished EventKind = "step_finished"
	EventAborted      EventKind = "aborted"
	EventFinished     EventKind = "finished"
)

// Event is one queued notification. Only the fields of its kind are set.
type Event struct {
	Kind     EventKind
	Meta     map[string]any
	Current  int
	Total    int
	Elapsed  time.Duration
	Estimate time.Duration
	Message  string
	Atom     *data.Atom
	Run      *data.Run
}

// Dispatch delivers the event to l.
func (e Event) Dispatch(l Listener) {
	switch e.Kind {
	case EventRunStarted:
		l.RunStarted(e.Meta)
	case EventRunProgress:
		l.RunProgress(e.Current, e.Total)
	case EventStepStarted:
		l.StepStarted(e.Meta)
	case EventStepProgress:
		l.StepProgress(e.Elapsed, e.Estimate, e.Message)
	case EventDataReady:
		l.DataReady(e.Atom, e.Meta)
	case EventStepFinished:
		l.StepFinished(e.Current, e.Total)
	case EventAborted:
		l.Aborted()
	case EventFinished:
		l.Finished(e.Run)
	}
}

// EventQueue is a Listener that buffers notifications for another
// goroutine. The worker pushes; the controlling goroutine waits on Ready and
// calls Drain.
type EventQueue struct {
	mu    sync.Mutex
	q     *queue.Queue
	ready chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
	}
}

func (e *EventQueue) push(ev Event) {
	e.mu.Lock()
	e.q.Add(ev)
	e.mu.Unlock()

	select {
	case e.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled when events are waiting.
func (e *EventQueue) Ready() <-chan struct{} {
	return e.ready
}

func (e *EventQueue) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.Length()
}

// Drain dispatches all queued events to l in arrival order and returns how
// many were delivered.
func (e *EventQueue) Drain(l Listener) int {
	n := 0
	for {
		e.mu.Lock()
		if e.q.Length() == 0 {
			e.mu.Unlock()
			return n
		}
		ev := e.q.Remove().(Event)
		e.mu.Unlock()

		ev.Dispatch(l)
		n++
	}
}

func (e *EventQueue) RunStarted(sweep map[string]any) {
	e.push(Event{Kind: EventRunStarted, Meta: sweep})
}

func (e *EventQueue) RunProgress(current, total int) {
	e.push(Event{Kind: EventRunProgress, Current: current, Total: total})
}

func (e *EventQueue) StepStarted(meta map[string]any) {
	e.push(Event{Kind: EventStepStarted, Meta: meta})
}

func (e *EventQueue) StepProgress(elapsed, estimate time.Duration, message string) {
	e.push(Event{Kind: EventStepProgress, Elapsed: elapsed, Estimate: estimate, Message: message})
}

func (e *EventQueue) DataReady(atom *data.Atom, meta map[string]any) {
	e.push(Event{Kind: EventDataReady, Atom: atom, Meta: meta})
}

func (e *EventQueue) StepFinished(index, total int) {
	e.push(Event{Kind: EventStepFinished, Current: index, Total: total})
}

func (e *EventQueue) Aborted() {
	e.push(Event{Kind: EventAborted})
}

func (e *EventQueue) Finished(run *data.Run) {
	e.push(Event{Kind: EventFinished, Run: run})
}
