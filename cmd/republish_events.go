package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/richoz-sanitaire/intervention-service/internal/database"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var republishEventsCmd = &cobra.Command{
	Use:   "republish-events",
	Short: "Re-emit the current status of every intervention to Kafka (consumers rebuilding state)",
	RunE:  runRepublishEvents,
}

func runRepublishEvents(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	if !producer.Enabled() {
		log.Warn("republish-events: KAFKA_BROKERS not set, nothing to do")
		return nil
	}
	defer producer.Close()

	conn, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	svc := service.NewInterventionService(conn, producer, log, service.Options{})
	n, err := svc.Republish(ctx, func(ctx context.Context, it *model.Intervention) {
		producer.Publish(ctx, kafka.EventInterventionStatusChanged, it.ID.String(), map[string]interface{}{
			"intervention_id": it.ID.String(),
			"status":          string(it.Status),
			"source_type":     string(it.SourceType),
			"republished":     true,
		})
	})
	if err != nil {
		return fmt.Errorf("republish: %w", err)
	}
	log.Info("republish-events: done", zap.Int("events", n), zap.String("topic", cfg.Kafka.Topic))
	return nil
}
