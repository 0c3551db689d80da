package netbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trivialink/internal/protocol"
)

// ErrNoTarget is returned by Send when the bus has no routed host yet.
var ErrNoTarget = errors.New("no target host")

// ErrNotConnected is returned by Send between a disconnect and the next
// successful Connect.
var ErrNotConnected = errors.New("not connected")

// Bus delivers named messages asynchronously in arrival order to
// subscribers. It has no native concept of request/response; see the
// correlate package for that.
type Bus interface {
	Send(ctx context.Context, m protocol.Message) error
	// Subscribe registers fn for every inbound message, in arrival order.
	// The returned cancel must be called exactly once to release the
	// subscription.
	Subscribe(fn func(protocol.Message)) (cancel func())
	// Target is the routed host address, or "" if routing has not
	// happened yet.
	Target() string
	// OnDisconnect registers fn to run once per lost connection.
	OnDisconnect(fn func(err error))
	Close() error
}

// Connector is a Bus whose connection can be (re)established. Connect with
// upgrade set promotes the anonymous socket to one carrying the
// already-authenticated identity.
type Connector interface {
	Bus
	Connect(ctx context.Context, upgrade bool) error
}

const (
	writeTimeout  = 3 * time.Second
	keepaliveTick = 20 * time.Second
)

// WSBus is a Bus over one websocket connection. Connect may be called again
// after a disconnect; subscribers and disconnect callbacks survive redials.
type WSBus struct {
	url       string
	authToken string
	log       *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	target       string
	subs         map[string]func(protocol.Message)
	onDisconnect []func(error)
	stop         context.CancelFunc
	closed       bool
}

func New(url, authToken string, log *zap.Logger) *WSBus {
	return &WSBus{
		url:       url,
		authToken: authToken,
		log:       log,
		subs:      make(map[string]func(protocol.Message)),
	}
}

// Connect dials the endpoint and starts the read pump. When upgrade is set,
// the Upgrade command carrying the authenticated identity token is written
// before any subscriber sees traffic, promoting the anonymous socket.
func (b *WSBus) Connect(ctx context.Context, upgrade bool) error {
	conn, _, err := websocket.Dial(ctx, b.url, nil)
	if err != nil {
		return err
	}

	if upgrade {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = conn.Write(wctx, websocket.MessageText,
			[]byte(protocol.UpgradeCommand(b.authToken).Text))
		cancel()
		if err != nil {
			conn.Close(websocket.StatusInternalError, "upgrade failed")
			return err
		}
	}

	pumpCtx, stop := context.WithCancel(context.Background())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		stop()
		conn.Close(websocket.StatusGoingAway, "bus closed")
		return errors.New("bus closed")
	}
	if b.stop != nil {
		b.stop()
	}
	b.conn = conn
	b.target = b.url
	b.stop = stop
	b.mu.Unlock()

	go b.pump(pumpCtx, conn)
	return nil
}

// pump reads messages until the connection dies, fanning each one out to
// subscribers in arrival order, and keeps the socket alive with pings.
func (b *WSBus) pump(ctx context.Context, conn *websocket.Conn) {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return err
			}
			b.dispatch(protocol.Message{Text: string(data)})
		}
	})

	g.Go(func() error {
		t := time.NewTicker(keepaliveTick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				if err := conn.Ping(ctx); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()

	b.mu.Lock()
	intentional := b.closed || b.conn != conn
	if b.conn == conn {
		b.conn = nil
	}
	callbacks := make([]func(error), len(b.onDisconnect))
	copy(callbacks, b.onDisconnect)
	b.mu.Unlock()

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		intentional = true
	}
	if intentional {
		return
	}

	b.log.Warn("connection lost", zap.Error(err))
	for _, fn := range callbacks {
		fn(err)
	}
}

func (b *WSBus) dispatch(m protocol.Message) {
	b.mu.Lock()
	fns := make([]func(protocol.Message), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (b *WSBus) Send(ctx context.Context, m protocol.Message) error {
	b.mu.Lock()
	conn, target := b.conn, b.target
	b.mu.Unlock()

	if target == "" {
		return ErrNoTarget
	}
	if conn == nil {
		return ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, []byte(m.Text))
}

func (b *WSBus) Subscribe(fn func(protocol.Message)) (cancel func()) {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *WSBus) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

func (b *WSBus) OnDisconnect(fn func(err error)) {
	b.mu.Lock()
	b.onDisconnect = append(b.onDisconnect, fn)
	b.mu.Unlock()
}

func (b *WSBus) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.conn = nil
	if b.stop != nil {
		b.stop()
	}
	b.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return nil
}
