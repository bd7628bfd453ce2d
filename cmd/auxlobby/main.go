// Command auxlobby runs a headless client session: it wires the
// engine against the configured endpoints and logs what the lobby
// does. Presentation is someone else's problem.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"auxlobby/internal/collabclient"
	"auxlobby/internal/config"
	"auxlobby/internal/lobby"
	"auxlobby/internal/localstore"
	"auxlobby/internal/notify"
	"auxlobby/internal/protocol"
	"auxlobby/internal/queue"
	"auxlobby/internal/session"
	"auxlobby/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "auxlobby.json", "config file path")
	userID := flag.String("user", "", "user id (overrides the persisted identity)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := localstore.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("state db: %v", err)
	}
	defer store.Close()

	identity := session.NewIdentityStore(store)
	if *userID != "" {
		identity.Set(protocol.Identity{UserID: *userID, DisplayName: *userID})
	}
	membership := session.NewMembershipStore(store)
	playback := session.NewPlaybackStore(store)
	q := queue.NewStore()

	collab, err := collabclient.New(cfg.HTTPBaseURL)
	if err != nil {
		log.Fatalf("collab client: %v", err)
	}

	conn := transport.NewWS(cfg.WSURL, identity.Current)
	engine := lobby.NewEngine(conn, identity, membership, playback, q, collab)
	center := notify.NewCenter(conn, collab, identity, engine.Enqueue)

	ctx := context.Background()
	engine.Start(ctx)
	center.Start(ctx)

	center.SubscribeEphemeral(func(msg string) { log.Printf("[info] %s", msg) })
	center.SubscribeActionable(func(n protocol.Notification) {
		log.Printf("[notification] %s %s", n.Kind, n.ID)
	})
	playback.Subscribe(func(s protocol.PlaybackState) {
		log.Printf("[playback] %s %s - %s @%.0fs", s.Phase, s.Artist, s.Title, s.PositionSeconds)
	})
	engine.SubscribeChat(func(m protocol.ChatMessage) {
		log.Printf("[chat] %s: %s", m.Sender, m.Body)
	})

	if err := conn.Open(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	log.Printf("connected to %s", cfg.WSURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	conn.Close()
}
