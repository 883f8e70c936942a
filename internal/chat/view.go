// Package chat holds the chat view: the conversation state, the reducer that folds connection
// events into it, and the loop that owns it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/google/uuid"
)

// Connection is the persistent socket to the assistant, scoped to one session at a time. Lifecycle
// changes and frames of the connection are delivered to the View as models.Event values.
type Connection interface {
	Connect(sessionID string)
	Send(text string) error
	Close()
}

// SessionDeleter removes the assistant-side history of a session.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// Publisher receives every state the view moves into, in order.
type Publisher interface {
	Publish(state State)
}

// View owns the chat State. All reads and writes of the state happen on the goroutine running
// Run; other goroutines go through Submit, Reset and Snapshot, which hand work to that loop.
type View struct {
	conn      Connection
	sessions  SessionDeleter
	publisher Publisher
	events    <-chan models.Event
	welcome   string

	actions chan func()
	done    chan struct{}
	state   State

	logger *slog.Logger
}

// ErrClosed is returned by View methods called after Run has returned.
var ErrClosed = errors.New("chat view is closed")

// NewView creates a View for a fresh conversation with a newly minted session identifier. The
// events channel is the one the Connection delivers to.
func NewView(
	conn Connection,
	sessions SessionDeleter,
	publisher Publisher,
	events <-chan models.Event,
	welcome string,
	logger *slog.Logger,
) *View {
	return &View{
		conn:      conn,
		sessions:  sessions,
		publisher: publisher,
		events:    events,
		welcome:   welcome,
		actions:   make(chan func()),
		done:      make(chan struct{}),
		state:     NewState(uuid.NewString(), welcome),
		logger:    logger.With(slog.String("module", "chat")),
	}
}

// Run connects the current session and processes connection events and caller actions until ctx
// is done. It returns ctx.Err(). Tearing down the Connection is the caller's job.
func (v *View) Run(ctx context.Context) error {
	defer close(v.done)

	v.conn.Connect(v.state.SessionID)
	v.publish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-v.events:
			if ev.SessionID != v.state.SessionID {
				v.logger.Debug("Dropping event of replaced session",
					slog.String("kind", string(ev.Kind)),
					slog.String("sessionID", ev.SessionID))
				continue
			}
			v.state = v.state.Apply(ev)
			v.publish()
		case act := <-v.actions:
			act()
		}
	}
}

func (v *View) publish() {
	v.publisher.Publish(v.state)
}

// do runs fn on the loop goroutine and waits for it to finish.
func (v *View) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case v.actions <- func() {
		defer close(ran)
		fn()
	}:
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

// Snapshot returns the current state.
func (v *View) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := v.do(ctx, func() { st = v.state })
	return st, err
}

// Submit sends the trimmed input to the assistant and appends it to the conversation. It returns
// ErrEmptyInput, ErrDisconnected or ErrStreaming when the submission is rejected; a rejected
// submission changes nothing.
func (v *View) Submit(ctx context.Context, input string) error {
	var err error
	if doErr := v.do(ctx, func() {
		var text string
		text, err = v.state.Accept(input)
		if err != nil {
			return
		}
		if sendErr := v.conn.Send(text); sendErr != nil {
			err = fmt.Errorf("%w: %w", ErrDisconnected, sendErr)
			return
		}
		v.state = v.state.AppendUser(text)
		v.publish()
	}); doErr != nil {
		return doErr
	}
	return err
}

// Reset clears the conversation. The assistant-side history is deleted first; only when that
// succeeds the connection is closed and a new session with a fresh welcome message takes over.
// A failed deletion leaves the session untouched and appends a system message instead. The
// deletion runs on the caller's goroutine, the loop keeps serving events meanwhile.
func (v *View) Reset(ctx context.Context) error {
	var sessionID string
	if err := v.do(ctx, func() { sessionID = v.state.SessionID }); err != nil {
		return err
	}

	delErr := v.sessions.DeleteSession(ctx, sessionID)

	// The deletion already happened; its outcome is applied even if the caller went away.
	return v.do(context.WithoutCancel(ctx), func() {
		if v.state.SessionID != sessionID {
			// A concurrent reset already replaced the session.
			return
		}
		if delErr != nil {
			v.logger.Warn("Failed to delete session",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, delErr.Error()))
			v.state = v.state.AppendSystem(fmt.Sprintf("Could not clear the conversation: %v", delErr))
			v.publish()
			return
		}

		v.conn.Close()
		v.state = NewState(uuid.NewString(), v.welcome)
		v.logger.Info("Session reset",
			slog.String("oldSessionID", sessionID),
			slog.String("sessionID", v.state.SessionID))
		v.conn.Connect(v.state.SessionID)
		v.publish()
	})
}

const errLoggerKey = "err"
