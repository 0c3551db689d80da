package correlate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"trivialink/internal/netbus"
	"trivialink/internal/protocol"
)

// fakeBus scripts a transport for the correlator: Send records the command
// and deliver pushes inbound messages to subscribers in order.
type fakeBus struct {
	mu      sync.Mutex
	target  string
	subs    []func(protocol.Message)
	sent    []protocol.Message
	sendErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{target: "ws://host:7777"}
}

func (b *fakeBus) Send(_ context.Context, m protocol.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == "" {
		return netbus.ErrNoTarget
	}
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, m)
	return nil
}

func (b *fakeBus) Subscribe(fn func(protocol.Message)) func() {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.subs = nil
		b.mu.Unlock()
	}
}

func (b *fakeBus) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

func (b *fakeBus) OnDisconnect(func(error)) {}
func (b *fakeBus) Close() error             { return nil }

func (b *fakeBus) deliver(m protocol.Message) {
	b.mu.Lock()
	subs := append([]func(protocol.Message){}, b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(m)
	}
}

// helper: await with a guard so tests never hang
func await(t *testing.T, f *Future, within time.Duration) (protocol.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	return f.Await(ctx)
}

func TestCorrelator_MatchingKindResolves(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, zap.NewNop())
	defer c.Close()

	fut := c.Send(context.Background(), protocol.GameInfoRequest(), protocol.KindGameInfo)
	bus.deliver(protocol.Message{Text: "GameInfo\n{}"})

	reply, err := await(t, fut, time.Second)
	if err != nil {
		t.Fatalf("want reply, got error: %v", err)
	}
	if reply.Kind() != protocol.KindGameInfo {
		t.Fatalf("want GameInfo, got %q", reply.Kind())
	}
}

func TestCorrelator_RefuseRejectsWithExactReason(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, zap.NewNop())
	defer c.Close()

	fut := c.Send(context.Background(),
		protocol.JoinCommand(protocol.RolePlayer, "max", protocol.SexMale, protocol.SlotNew, ""),
		protocol.KindAccepted)
	bus.deliver(protocol.Message{Text: "Refuse\nName_Exists"})

	_, err := await(t, fut, time.Second)
	var refused *RefusedError
	if !errors.As(err, &refused) {
		t.Fatalf("want RefusedError, got %v", err)
	}
	if refused.Error() != "Name_Exists" {
		t.Fatalf("want reason %q, got %q", "Name_Exists", refused.Error())
	}
}

func TestCorrelator_RefuseWithoutReasonGetsGenericText(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, zap.NewNop())
	defer c.Close()

	fut := c.Send(context.Background(), protocol.GameInfoRequest(), protocol.KindGameInfo)
	bus.deliver(protocol.Message{Text: "Refuse"})

	_, err := await(t, fut, time.Second)
	var refused *RefusedError
	if !errors.As(err, &refused) {
		t.Fatalf("want RefusedError, got %v", err)
	}
	if refused.Reason != genericRefusal {
		t.Fatalf("want generic reason, got %q", refused.Reason)
	}
}

func TestCorrelator_OverlappingRequestsSettleInSendOrder(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, zap.NewNop())
	defer c.Close()

	first := c.Send(context.Background(), protocol.GameIDCommand(1), protocol.KindGame, protocol.KindNoGame)
	second := c.Send(context.Background(), protocol.GameIDCommand(2), protocol.KindGame, protocol.KindNoGame)

	bus.deliver(protocol.Message{Text: "Game\n1"})
	bus.deliver(protocol.Message{Text: "NoGame"})

	r1, err := await(t, first, time.Second)
	if err != nil || r1.Arg(0) != "1" {
		t.Fatalf("first: want Game 1, got %v %v", r1, err)
	}
	r2, err := await(t, second, time.Second)
	if err != nil || r2.Kind() != protocol.KindNoGame {
		t.Fatalf("second: want NoGame, got %v %v", r2, err)
	}
}

func TestCorrelator_RefuseRejectsOldestOutstanding(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, zap.NewNop())
	defer c.Close()

	first := c.Send(context.Background(), protocol.GameInfoRequest(), protocol.KindGameInfo)
	second := c.Send(context.Background(), protocol.GameInfoRequest(), protocol.KindGameInfo)

	bus.deliver(protocol.Message{Text: "Refuse\nfull"})
	bus.deliver(protocol.Message{Text: "GameInfo\n{}"})

	if _, err := await(t, first, time.Second); err == nil {
		t.Fatal("first: want refusal, got reply")
	}
	if _, err := await(t, second, time.Second); err != nil {
		t.Fatalf("second: want reply, got %v", err)
	}
}

func TestCorrelator_NoTargetNeverResolvesUntilCallerTimeout(t *testing.T) {
	bus := newFakeBus()
	bus.target = ""
	c := New(bus, zap.NewNop())
	defer c.Close()

	fut := c.Send(context.Background(), protocol.GameInfoRequest(), protocol.KindGameInfo)
	_, err := await(t, fut, 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want caller timeout, got %v", err)
	}
}

func TestCorrelator_SendFailureSettlesFuture(t *testing.T) {
	bus := newFakeBus()
	bus.sendErr = errors.New("socket gone")
	c := New(bus, zap.NewNop())
	defer c.Close()

	fut := c.Send(context.Background(), protocol.GameInfoRequest(), protocol.KindGameInfo)
	_, err := await(t, fut, time.Second)
	if err == nil || err.Error() != "socket gone" {
		t.Fatalf("want send error, got %v", err)
	}
}

func TestCorrelator_CloseFailsPendingAndUnsubscribes(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, zap.NewNop())

	fut := c.Send(context.Background(), protocol.GameInfoRequest(), protocol.KindGameInfo)
	c.Close()
	c.Close() // second close is a no-op

	_, err := await(t, fut, time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if len(bus.subs) != 0 {
		t.Fatalf("want subscription released, still have %d", len(bus.subs))
	}
}
