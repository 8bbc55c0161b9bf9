// gatewayctl is the out-of-band operations tool for the event gateway. It
// talks to the gateway over the NATS control plane: ejecting a user's
// connections without an admin WebSocket session, and tailing moderation
// announcements.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/emberchat/gateway/internal/messaging"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: gatewayctl <command> [args]

commands:
  force-logout <userId> [reason]   close every connection of a user
  watch                            tail control-plane announcements

environment:
  NATS_URL   control plane address (default nats://localhost:4222)
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "gatewayctl"

	client, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer client.Close()

	switch os.Args[1] {
	case "force-logout":
		if len(os.Args) < 3 {
			usage()
		}
		userID := os.Args[2]
		reason := "logged out by operator"
		if len(os.Args) > 3 {
			reason = strings.Join(os.Args[3:], " ")
		}
		if err := client.PublishForceLogout(userID, reason); err != nil {
			log.Fatalf("publish failed: %v", err)
		}
		log.Printf("force-logout published for user=%s reason=%q", userID, reason)

	case "watch":
		err := client.SubscribeSeals(func(ann messaging.SealAnnouncement) {
			log.Printf("[seal] kind=%s subject=%s at=%s", ann.Kind, ann.Subject, ann.At.Format("15:04:05"))
		})
		if err != nil {
			log.Fatalf("subscribe seals: %v", err)
		}
		err = client.SubscribeForceLogout(func(cmd messaging.ForceLogoutCommand) {
			log.Printf("[forcelogout] user=%s reason=%q", cmd.UserID, cmd.Reason)
		})
		if err != nil {
			log.Fatalf("subscribe forcelogout: %v", err)
		}

		log.Printf("watching control plane on %s", natsConfig.URL)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

	default:
		usage()
	}
}
