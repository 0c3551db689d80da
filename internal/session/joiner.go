package session

import (
	"context"

	"go.uber.org/zap"

	"trivialink/internal/correlate"
	"trivialink/internal/netbus"
	"trivialink/internal/protocol"
	"trivialink/internal/roster"
)

// JoinRequest describes one attempt to take a seat in a remote game.
type JoinRequest struct {
	// Game is the directory entry being joined, when known. Drives local
	// validation (password) before any network call.
	Game *protocol.GameSummary
	// Info is pre-fetched roster/routing info; when nil and the slot is
	// not a rejoin, the joiner requests it over the wire.
	Info *protocol.GameInfo
	// Host is the explicit host address, used when no Info routing exists.
	Host string
	// Bus reuses an already-created transport; nil means dial a new one.
	Bus netbus.Connector

	Role        protocol.Role
	Name        string
	Sex         protocol.Sex
	Slot        int
	Credentials string
	Online      bool
}

// Joiner executes the multi-stage join handshake. Retrying a failed join
// from scratch is always safe; a partial session is never exposed.
type Joiner struct {
	// Dial creates a transport addressed at the given host.
	Dial func(addr string) netbus.Connector
	// OnAttach runs after the live session exists, before it is surfaced;
	// the application hooks its reconnect coordinator here.
	OnAttach func(*Live)
	// OnReady fires once the session is fully established, carrying the
	// online-vs-direct flag.
	OnReady func(live *Live, online bool)

	Roster *roster.Roster
	Log    *zap.Logger
}

// Join runs the handshake. Any failure disposes every resource created
// along the way and propagates; the caller owns user-visible display.
func (j *Joiner) Join(ctx context.Context, req JoinRequest) (live *Live, err error) {
	if req.Game != nil && req.Game.PasswordSet && req.Credentials == "" {
		return nil, ErrPasswordRequired
	}

	bus := req.Bus
	created := false
	if bus == nil {
		addr := req.Host
		if addr == "" && req.Info != nil {
			addr = req.Info.HostAddress
		}
		bus = j.Dial(addr)
		created = true
	}
	defer func() {
		if err != nil && created {
			// Best effort; never mask the primary error.
			_ = bus.Close()
		}
	}()

	if cerr := bus.Connect(ctx, req.Online); cerr != nil {
		return nil, &Error{Msg: "cannot connect", CanRetry: true, Err: cerr}
	}

	corr := correlate.New(bus, j.Log)
	defer corr.Close()

	info := req.Info
	if info == nil && req.Slot != protocol.SlotRejoin {
		reply, aerr := corr.Send(ctx, protocol.GameInfoRequest(), protocol.KindGameInfo).Await(ctx)
		if aerr != nil {
			return nil, aerr
		}
		gi, perr := protocol.ParseGameInfo(reply)
		if perr != nil {
			return nil, perr
		}
		info = &gi
	}

	join := protocol.JoinCommand(req.Role, req.Name, req.Sex, req.Slot, req.Credentials)
	reply, aerr := corr.Send(ctx, join, protocol.KindAccepted).Await(ctx)
	if aerr != nil {
		return nil, aerr
	}

	sess := &Session{
		Role:        req.Role,
		Name:        req.Name,
		Sex:         req.Sex,
		Slot:        req.Slot,
		Credentials: req.Credentials,
		GameID:      protocol.GameIDUnknown,
		Online:      req.Online,
	}
	if accepted, perr := protocol.ParseGameInfo(reply); perr == nil {
		sess.GameID = accepted.GameID
	} else if info != nil {
		sess.GameID = info.GameID
	}

	live = NewLive(sess, bus, j.Roster, j.Log)
	if rerr := live.Register(); rerr != nil {
		return nil, rerr
	}

	if j.OnAttach != nil {
		j.OnAttach(live)
	}
	if j.OnReady != nil {
		j.OnReady(live, req.Online)
	}

	j.Log.Info("joined",
		zap.String("name", req.Name),
		zap.String("role", string(req.Role)),
		zap.Int("game", sess.GameID))

	if rerr := live.RefreshState(ctx); rerr != nil {
		j.Log.Warn("state refresh after join", zap.Error(rerr))
	}
	return live, nil
}
