// Package correlate matches replies to requests over a push-based transport
// that has no wire-level request ids. Pending requests form a FIFO queue:
// an inbound message resolves the oldest request watching its kind, and a
// Refuse rejects the oldest outstanding request, so overlapping requests are
// settled strictly in send order and none is ever orphaned.
package correlate

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trivialink/internal/netbus"
	"trivialink/internal/protocol"
)

// ErrClosed fails every future still pending when the correlator is
// released.
var ErrClosed = errors.New("correlator closed")

// RefusedError carries the server-supplied reason of a Refuse reply.
type RefusedError struct {
	Reason string
}

func (e *RefusedError) Error() string { return e.Reason }

// genericRefusal stands in when the server refuses without a reason line.
const genericRefusal = "connection refused"

type result struct {
	msg protocol.Message
	err error
}

type pending struct {
	id    string
	kinds map[string]struct{}
	done  chan result
}

// Future resolves with the reply to one sent command.
type Future struct {
	done <-chan result
}

// Await blocks until the reply arrives, the request fails, or ctx ends.
// Callers own the timeout; a command sent while the transport is unrouted
// never resolves on its own.
func (f *Future) Await(ctx context.Context) (protocol.Message, error) {
	select {
	case r := <-f.done:
		return r.msg, r.err
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Correlator turns outgoing commands into futures resolved by inbound
// messages. One correlator serves one transport connection; release it with
// Close before building another or the old subscription leaks across
// reconnects.
type Correlator struct {
	bus  netbus.Bus
	log  *zap.Logger
	unsc func()
	once sync.Once

	mu    sync.Mutex
	queue []*pending
}

func New(bus netbus.Bus, log *zap.Logger) *Correlator {
	c := &Correlator{bus: bus, log: log}
	c.unsc = bus.Subscribe(c.handle)
	return c
}

// Send enqueues a watcher for the given reply kinds, dispatches the command
// asynchronously, and returns the future without blocking. Refuse is always
// watched implicitly.
func (c *Correlator) Send(ctx context.Context, m protocol.Message, replyKinds ...string) *Future {
	p := &pending{
		id:    uuid.NewString(),
		kinds: make(map[string]struct{}, len(replyKinds)),
		done:  make(chan result, 1),
	}
	for _, k := range replyKinds {
		p.kinds[k] = struct{}{}
	}

	c.mu.Lock()
	c.queue = append(c.queue, p)
	c.mu.Unlock()

	go func() {
		err := c.bus.Send(ctx, m)
		if err == nil {
			return
		}
		if errors.Is(err, netbus.ErrNoTarget) {
			// No route yet: the future stays pending until the caller's
			// timeout or cancellation settles it.
			c.log.Error("send without target",
				zap.String("kind", m.Kind()), zap.String("request", p.id))
			return
		}
		c.settle(p, result{err: err})
	}()

	return &Future{done: p.done}
}

// handle inspects one inbound message against the pending queue.
func (c *Correlator) handle(m protocol.Message) {
	kind := m.Kind()

	c.mu.Lock()
	var hit *pending
	if kind == protocol.KindRefuse {
		if len(c.queue) > 0 {
			hit = c.queue[0]
			c.queue = c.queue[1:]
		}
	} else {
		for i, p := range c.queue {
			if _, ok := p.kinds[kind]; ok {
				hit = p
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if hit == nil {
		return
	}
	if kind == protocol.KindRefuse {
		reason := m.Arg(0)
		if reason == "" {
			reason = genericRefusal
		}
		hit.done <- result{err: &RefusedError{Reason: reason}}
		return
	}
	hit.done <- result{msg: m}
}

func (c *Correlator) settle(p *pending, r result) {
	c.mu.Lock()
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			p.done <- r
			break
		}
	}
	c.mu.Unlock()
}

// Close unsubscribes from the bus exactly once and fails everything still
// pending.
func (c *Correlator) Close() {
	c.once.Do(func() {
		c.unsc()
		c.mu.Lock()
		queue := c.queue
		c.queue = nil
		c.mu.Unlock()
		for _, p := range queue {
			p.done <- result{err: ErrClosed}
		}
	})
}
