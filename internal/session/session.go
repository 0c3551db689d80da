// Package session holds the client's participation state machine and the
// join handshake that establishes it.
package session

import (
	"context"

	"go.uber.org/zap"

	"trivialink/internal/netbus"
	"trivialink/internal/protocol"
	"trivialink/internal/roster"
)

// Session is the client's seat in one game. Owned exclusively by the
// joining workflow; destroyed on explicit leave or fatal join failure.
type Session struct {
	Role        protocol.Role
	Name        string
	Sex         protocol.Sex
	Slot        int // SlotNew or SlotRejoin
	Credentials string
	GameID      int // GameIDUnknown until resolved
	Online      bool
}

// Controller is the role-bound behavior of a live session.
type Controller interface {
	Role() protocol.Role
	// CanManage reports whether this seat may drive game flow.
	CanManage() bool
	// CanAnswer reports whether this seat competes for questions.
	CanAnswer() bool
}

type showman struct{}

func (showman) Role() protocol.Role { return protocol.RoleShowman }
func (showman) CanManage() bool     { return true }
func (showman) CanAnswer() bool     { return false }

type player struct{}

func (player) Role() protocol.Role { return protocol.RolePlayer }
func (player) CanManage() bool     { return false }
func (player) CanAnswer() bool     { return true }

type viewer struct{}

func (viewer) Role() protocol.Role { return protocol.RoleViewer }
func (viewer) CanManage() bool     { return false }
func (viewer) CanAnswer() bool     { return false }

func controllerFor(role protocol.Role) Controller {
	switch role {
	case protocol.RoleShowman:
		return showman{}
	case protocol.RolePlayer:
		return player{}
	default:
		return viewer{}
	}
}

// Live is an established session bound to its transport and roster.
type Live struct {
	sess *Session
	ctl  Controller
	bus  netbus.Bus
	ros  *roster.Roster
	log  *zap.Logger
}

// NewLive binds an accepted session to its transport and roster. The
// joining workflow is the only production caller; nothing partial may be
// passed here.
func NewLive(sess *Session, bus netbus.Bus, ros *roster.Roster, log *zap.Logger) *Live {
	return &Live{
		sess: sess,
		ctl:  controllerFor(sess.Role),
		bus:  bus,
		ros:  ros,
		log:  log,
	}
}

func (l *Live) Session() *Session      { return l.sess }
func (l *Live) Controller() Controller { return l.ctl }
func (l *Live) Bus() netbus.Bus        { return l.bus }
func (l *Live) Roster() *roster.Roster { return l.ros }

// Register records this session's identity in the shared client roster.
// It fails with ErrRejoinFailed when the routing target is absent, which
// happens when the host dropped between accepting the join and now.
func (l *Live) Register() error {
	if l.bus.Target() == "" {
		return ErrRejoinFailed
	}
	l.ros.Register(roster.Entry{
		ID:   l.sess.Name,
		Name: l.sess.Name,
		Role: string(l.sess.Role),
	})
	return nil
}

// RefreshState asks the server for a full authoritative state snapshot, so
// the UI redraws from server truth instead of anything cached locally.
func (l *Live) RefreshState(ctx context.Context) error {
	return l.bus.Send(ctx, protocol.GetInfoRequest())
}

// Leave tears the session down: roster entry out, transport closed.
// Cleanup is best effort so a close failure never masks anything.
func (l *Live) Leave() {
	l.ros.Unregister(l.sess.Name)
	if err := l.bus.Close(); err != nil {
		l.log.Debug("close on leave", zap.Error(err))
	}
}
