package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/smukkama/demand-monitor/internal/notification"
	"github.com/smukkama/demand-monitor/internal/protocol"
	"github.com/smukkama/demand-monitor/internal/queue"
	"github.com/smukkama/demand-monitor/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Notification Service...")

	notifier := notification.NewEmailNotifier(&cfg.SMTP)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		fmt.Printf("Note: %v (notifications will be logged only)\n", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicChanges, "notification-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("\n✓ Notification Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	for {
		msg, err := consumer.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			log.Printf("Failed to consume message: %v\n", err)
			continue
		}

		digest, err := protocol.DecodeChangeDigest(msg.Value)
		if err != nil {
			log.Printf("Failed to decode change digest at offset %d: %v\n", msg.Offset, err)
			// Poison message: skip it
			if err := consumer.Commit(ctx, msg); err != nil {
				log.Printf("Failed to commit offset: %v\n", err)
			}
			continue
		}

		// Retry in place: committing a later offset would skip this one
		if err := notifier.DeliverDigest(ctx, digest, notification.DefaultBackoff); err != nil {
			log.Printf("Stopping with digest at offset %d undelivered, offset not committed: %v\n", msg.Offset, err)
			break
		}

		if err := consumer.Commit(ctx, msg); err != nil {
			log.Printf("Failed to commit offset: %v\n", err)
		}
	}

	fmt.Println("\nShutting down gracefully...")
}
