package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vovakirdan/wirechat-rendezvous/internal/client"
	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	name := flag.String("name", "tester", "display name to publish")
	contact := flag.String("contact", "", "contact address to publish")
	token := flag.String("token", "", "join token, if the hub requires one")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := client.Dial(ctx, *addr, &client.Options{Token: *token, AutoPong: true})
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	log.Printf("identity: %s", conn.Identity())

	if err := conn.SetProfile(ctx, *name, *contact); err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	if err := conn.Control(ctx, proto.ReadyForPartner{}); err != nil {
		return fmt.Errorf("ready for partner: %w", err)
	}

	env, err := conn.Expect(ctx, proto.CommandOnlineClients)
	if err != nil {
		return err
	}
	roster := env.Command.(proto.OnlineClients)
	log.Printf("round %d, %d online:", roster.Round, len(roster.Clients))
	for _, c := range roster.Clients {
		marker := " "
		if c.ID == conn.Identity() {
			marker = "*"
		}
		log.Printf(" %s %s name=%q status=%s liveness=%s", marker, c.ID, c.Name, c.Status.State, c.Liveness.State)
	}
	return nil
}
