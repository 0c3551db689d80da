// Package reconnect restores a session's seat after transport loss. The
// coordinator is an actor driven by typed messages over an inbox channel,
// stepping through Idle → Reconnecting → Rejoining → Idle | Failed.
package reconnect

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"trivialink/internal/correlate"
	"trivialink/internal/netbus"
	"trivialink/internal/protocol"
	"trivialink/internal/session"
)

// ErrGameClosed marks the terminal "game closed because empty" outcome,
// distinct from ordinary connection failures: retrying cannot help.
var ErrGameClosed = errors.New("game closed")

// resolveTimeout bounds the game-id resolution step. It is a hard limit,
// independent of any user-triggered cancellation.
const resolveTimeout = 10 * time.Second

type State int

const (
	StateIdle State = iota
	StateReconnecting
	StateRejoining
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReconnecting:
		return "reconnecting"
	case StateRejoining:
		return "rejoining"
	default:
		return "failed"
	}
}

// Status is one observable transition of the coordinator.
type Status struct {
	State    State
	CanRetry bool
	Err      error
}

type Msg interface{ isMsg() }

// Disconnected is the transport-level loss signal.
type Disconnected struct{ Err error }

// Retry re-runs a failed rejoin; ignored unless the last failure was
// retryable.
type Retry struct{}

// Cancel aborts a rejoin in progress by tearing down its correlator.
type Cancel struct{}

type Shutdown struct{}

// GetStatus reflects internal state without data races; used by tests.
type GetStatus struct{ Reply chan Status }

type rejoined struct{ err error }
type phase struct{ s State }

func (Disconnected) isMsg() {}
func (Retry) isMsg()        {}
func (Cancel) isMsg()       {}
func (Shutdown) isMsg()     {}
func (GetStatus) isMsg()    {}
func (rejoined) isMsg()     {}
func (phase) isMsg()        {}

type Coordinator struct {
	inbox    chan Msg
	bus      netbus.Connector
	live     *session.Live
	log      *zap.Logger
	onStatus func(Status)

	state     State
	canRetry  bool
	lastErr   error
	abort     context.CancelFunc
	ctx       context.Context
	cancelAll context.CancelFunc
}

// New builds a coordinator attached to the live session's transport and
// starts its loop. The transport's disconnect signal feeds the inbox
// directly.
func New(parent context.Context, live *session.Live, bus netbus.Connector, onStatus func(Status), log *zap.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		inbox:     make(chan Msg, 16),
		bus:       bus,
		live:      live,
		log:       log,
		onStatus:  onStatus,
		ctx:       ctx,
		cancelAll: cancel,
	}
	bus.OnDisconnect(func(err error) {
		select {
		case c.inbox <- Disconnected{Err: err}:
		case <-ctx.Done():
		}
	})
	go c.loop()
	return c
}

func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

func (c *Coordinator) loop() {
	for {
		select {
		case <-c.ctx.Done():
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Disconnected:
				if c.state != StateIdle {
					break
				}
				c.log.Info("transport lost, reconnecting", zap.Error(msg.Err))
				c.start()

			case Retry:
				if c.state != StateFailed || !c.canRetry {
					break
				}
				c.start()

			case Cancel:
				if c.abort != nil {
					c.abort()
				}

			case phase:
				if c.state == StateReconnecting && msg.s == StateRejoining {
					c.transition(msg.s, false, nil)
				}

			case rejoined:
				c.abort = nil
				if msg.err == nil {
					c.transition(StateIdle, false, nil)
					break
				}
				c.canRetry = session.Retryable(msg.err)
				c.transition(StateFailed, c.canRetry, msg.err)

			case GetStatus:
				msg.Reply <- Status{State: c.state, CanRetry: c.canRetry, Err: c.lastErr}

			case Shutdown:
				if c.abort != nil {
					c.abort()
				}
				c.cancelAll()
				return
			}
		}
	}
}

func (c *Coordinator) start() {
	ctx, abort := context.WithCancel(c.ctx)
	c.abort = abort
	c.transition(StateReconnecting, false, nil)
	go func() {
		err := c.rejoin(ctx)
		select {
		case c.inbox <- rejoined{err: err}:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Coordinator) transition(s State, canRetry bool, err error) {
	c.state = s
	c.canRetry = canRetry
	c.lastErr = err
	if c.onStatus != nil {
		c.onStatus(Status{State: s, CanRetry: canRetry, Err: err})
	}
}

// rejoin replays the join handshake against a fresh connection, slot 0.
func (c *Coordinator) rejoin(ctx context.Context) error {
	if err := c.bus.Connect(ctx, true); err != nil {
		return &session.Error{Msg: "cannot connect", CanRetry: true, Err: err}
	}

	corr := correlate.New(c.bus, c.log)
	defer corr.Close()

	sess := c.live.Session()

	if sess.GameID == protocol.GameIDUnknown {
		id, err := c.resolveGameID(ctx, corr)
		if err != nil {
			return err
		}
		sess.GameID = id
	}

	select {
	case c.inbox <- phase{s: StateRejoining}:
	default:
	}

	join := protocol.JoinCommand(sess.Role, sess.Name, sess.Sex, protocol.SlotRejoin, sess.Credentials)
	if _, err := corr.Send(ctx, join, protocol.KindAccepted).Await(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return &session.Error{Msg: "cannot join game", CanRetry: true, Err: err}
		}
		return err
	}

	if err := c.live.Register(); err != nil {
		return &session.Error{Msg: "rejoin error", CanRetry: true, Err: err}
	}

	// Redraw from authoritative server state, not anything cached across
	// the outage.
	if err := c.live.RefreshState(ctx); err != nil {
		c.log.Warn("state refresh after rejoin", zap.Error(err))
	}
	c.log.Info("rejoined", zap.Int("game", sess.GameID))
	return nil
}

// resolveGameID confirms the game still exists, under the hard timeout.
func (c *Coordinator) resolveGameID(ctx context.Context, corr *correlate.Correlator) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	cmd := protocol.GameIDCommand(protocol.GameIDUnknown)
	reply, err := corr.Send(tctx, cmd, protocol.KindGame, protocol.KindNoGame).Await(tctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return 0, &session.Error{Msg: "connection timeout", CanRetry: true, Err: err}
		}
		if errors.Is(err, context.Canceled) {
			return 0, &session.Error{Msg: "cannot join game", CanRetry: true, Err: err}
		}
		return 0, err
	}
	if reply.Kind() == protocol.KindNoGame {
		return 0, &session.Error{Msg: "game closed because empty", CanRetry: false, Err: ErrGameClosed}
	}
	id, err := strconv.Atoi(reply.Arg(0))
	if err != nil {
		return 0, &session.Error{Msg: "cannot join game", CanRetry: true, Err: err}
	}
	return id, nil
}
