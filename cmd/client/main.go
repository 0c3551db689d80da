package main

import (
	"context"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"trivialink/internal/config"
	"trivialink/internal/directory"
	"trivialink/internal/netbus"
	"trivialink/internal/protocol"
	"trivialink/internal/reconnect"
	"trivialink/internal/roster"
	"trivialink/internal/session"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bus := netbus.New(cfg.ServerURL, cfg.AuthToken, log)
	if err := bus.Connect(ctx, false); err != nil {
		log.Fatal("connect", zap.Error(err))
	}
	defer bus.Close()

	// Keep the lobby directory live from push notifications.
	dir := directory.New(log)
	unsub := bus.Subscribe(dir.HandleMessage)
	defer unsub()

	ros := roster.New()
	joiner := &session.Joiner{
		Dial: func(addr string) netbus.Connector {
			return netbus.New(addr, cfg.AuthToken, log)
		},
		Roster: ros,
		Log:    log,
	}
	joiner.OnAttach = func(live *session.Live) {
		reconnect.New(ctx, live, bus, func(s reconnect.Status) {
			log.Info("reconnect status",
				zap.Stringer("state", s.State),
				zap.Bool("can_retry", s.CanRetry),
				zap.Error(s.Err))
		}, log)
	}
	joiner.OnReady = func(live *session.Live, online bool) {
		log.Info("session ready",
			zap.String("role", string(live.Session().Role)),
			zap.Bool("online", online))
	}

	live, err := joiner.Join(ctx, session.JoinRequest{
		Bus:    bus,
		Role:   protocol.RoleViewer,
		Name:   cfg.Name,
		Sex:    protocol.SexMale,
		Slot:   protocol.SlotNew,
		Online: true,
	})
	if err != nil {
		log.Fatal("join", zap.Error(err))
	}
	defer live.Leave()

	<-ctx.Done()
	for _, g := range dir.View() {
		log.Info("game", zap.Int("id", g.ID), zap.String("name", g.Name))
	}
}
