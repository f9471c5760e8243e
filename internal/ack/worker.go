// Package ack implements the ack-tracking worker of spec.md §4.3: a
// single-owner goroutine that tracks in-flight WebSocket deliveries and
// resends or gives them up as lost, reached only through its control
// channel. The single-owner-task-plus-channel shape follows the
// teacher's cmd/fanout/hub.go Hub.Run select loop.
package ack

import (
	"context"
	"time"

	"github.com/celerity/runtime-go/internal/metrics"
)

// Status is the terminal or in-flight state of a tracked message.
type Status int

const (
	// StatusUnknown means there is no tracking entry for the id (either
	// never registered or already garbage-collected after going terminal).
	StatusUnknown Status = iota
	StatusPending
	StatusReceived
	StatusLost
)

// Action is emitted on the Actions channel when the worker decides a
// pending message must be resent or given up as lost.
type Action struct {
	Kind          ActionKind
	MessageID     string
	ConnectionID  string
	MessageBody   any
	InformClients []string
}

type ActionKind int

const (
	ActionResend ActionKind = iota
	ActionLost
)

type pendingEntry struct {
	connectionID  string
	body          any
	informClients []string
	attempts      int
	lastSentAt    time.Time
}

type statusCmd struct {
	id     string
	status Status
	// for a new Pending entry
	connectionID  string
	body          any
	informClients []string
}

type checkCmd struct {
	id    string
	reply chan Status
}

type waitCmd struct {
	id    string
	reply chan Status
}

// Config holds the tunables from spec.md §4.3.
type Config struct {
	CheckInterval   time.Duration
	MessageTimeout  time.Duration
	MaxAttempts     int
}

// DefaultConfig returns the spec's defaults: 250ms check interval, 5s
// message timeout, 3 max attempts.
func DefaultConfig() Config {
	return Config{
		CheckInterval:  250 * time.Millisecond,
		MessageTimeout: 5 * time.Second,
		MaxAttempts:    3,
	}
}

// Worker owns the pending-message state table and runs its tick loop on
// a dedicated goroutine, communicating only through its control channel.
type Worker struct {
	cfg     Config
	statusC chan statusCmd
	checkC  chan checkCmd
	waitC   chan waitCmd
	actions chan Action
}

// NewWorker starts the worker loop bound to ctx and returns a handle. The
// loop exits when ctx is cancelled.
func NewWorker(ctx context.Context, cfg Config) *Worker {
	w := &Worker{
		cfg:     cfg,
		statusC: make(chan statusCmd),
		checkC:  make(chan checkCmd),
		waitC:   make(chan waitCmd),
		actions: make(chan Action, 64),
	}
	go w.run(ctx)
	return w
}

// Actions delivers Resend/Lost decisions for the caller to act on
// (publishing to the bus, delivering to local clients, and so on).
func (w *Worker) Actions() <-chan Action { return w.actions }

// TrackPending registers a new Pending entry for id (or resets it).
// connectionID is carried through to a subsequent Resend action so the
// caller can republish the message to its owning node without having to
// keep its own side-table keyed by message id. Per spec.md §4.3 a
// subsequent send for an id already Received should not call this
// again; callers are expected to check Status first.
func (w *Worker) TrackPending(id, connectionID string, body any, informClients []string) {
	w.statusC <- statusCmd{id: id, status: StatusPending, connectionID: connectionID, body: body, informClients: informClients}
}

// MarkReceived transitions id to Received, deduplicating a subsequent
// send that observes the entry already in that state.
func (w *Worker) MarkReceived(id string) {
	w.statusC <- statusCmd{id: id, status: StatusReceived}
}

// Check returns the current status of id without blocking past the
// control loop's next iteration.
func (w *Worker) Check(id string) Status {
	reply := make(chan Status, 1)
	w.checkC <- checkCmd{id: id, reply: reply}
	return <-reply
}

// Wait blocks until id's status becomes Received or Lost, or ctx is
// cancelled (in which case it returns StatusUnknown).
func (w *Worker) Wait(ctx context.Context, id string) Status {
	reply := make(chan Status, 1)
	select {
	case w.waitC <- waitCmd{id: id, reply: reply}:
	case <-ctx.Done():
		return StatusUnknown
	}
	select {
	case s := <-reply:
		return s
	case <-ctx.Done():
		return StatusUnknown
	}
}

func (w *Worker) run(ctx context.Context) {
	pending := make(map[string]*pendingEntry)
	received := make(map[string]struct{})
	waiters := make(map[string][]chan Status)

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	resolveWaiters := func(id string, status Status) {
		for _, reply := range waiters[id] {
			reply <- status
		}
		delete(waiters, id)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-w.statusC:
			switch cmd.status {
			case StatusPending:
				pending[cmd.id] = &pendingEntry{
					connectionID:  cmd.connectionID,
					body:          cmd.body,
					informClients: cmd.informClients,
					attempts:      1,
					lastSentAt:    time.Now(),
				}
				delete(received, cmd.id)
			case StatusReceived:
				delete(pending, cmd.id)
				received[cmd.id] = struct{}{}
				resolveWaiters(cmd.id, StatusReceived)
			}

		case cmd := <-w.checkC:
			if _, ok := received[cmd.id]; ok {
				cmd.reply <- StatusReceived
			} else if _, ok := pending[cmd.id]; ok {
				cmd.reply <- StatusPending
			} else {
				cmd.reply <- StatusUnknown
			}

		case cmd := <-w.waitC:
			if _, ok := received[cmd.id]; ok {
				cmd.reply <- StatusReceived
				continue
			}
			if _, ok := pending[cmd.id]; !ok {
				// no entry: either already lost-and-reaped, or never
				// tracked. Treat as unknown so callers don't hang.
				cmd.reply <- StatusUnknown
				continue
			}
			waiters[cmd.id] = append(waiters[cmd.id], cmd.reply)

		case now := <-ticker.C:
			for id, entry := range pending {
				if now.Sub(entry.lastSentAt) < w.cfg.MessageTimeout {
					continue
				}
				if entry.attempts < w.cfg.MaxAttempts {
					entry.attempts++
					entry.lastSentAt = now
					w.emit(Action{
						Kind:          ActionResend,
						MessageID:     id,
						ConnectionID:  entry.connectionID,
						MessageBody:   entry.body,
						InformClients: entry.informClients,
					})
				} else {
					delete(pending, id)
					resolveWaiters(id, StatusLost)
					metrics.WSMessagesLostTotal.Inc()
					w.emit(Action{
						Kind:          ActionLost,
						MessageID:     id,
						ConnectionID:  entry.connectionID,
						InformClients: entry.informClients,
					})
				}
			}
		}
	}
}

func (w *Worker) emit(a Action) {
	select {
	case w.actions <- a:
	default:
		// action buffer full: drop rather than block the tick loop.
		// A full buffer means the consumer has fallen far behind; the
		// next tick will re-evaluate this entry's state regardless.
	}
}
