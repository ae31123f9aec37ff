package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/internal/importer"
	"github.com/jeongwoohan/grantcat/pkg/config"
	pkgkafka "github.com/jeongwoohan/grantcat/pkg/kafka"
	"github.com/jeongwoohan/grantcat/pkg/logger"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	filePath := flag.String("file", "", "apply a crawler output file and exit instead of consuming Kafka")
	publishPath := flag.String("publish", "", "publish a crawler output file to the import topic and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *publishPath != "" {
		if err := publishFile(ctx, cfg, *publishPath); err != nil {
			slog.Error("publish failed", "file", *publishPath, "error", err)
			os.Exit(1)
		}
		return
	}

	m := metrics.New()
	coord, err := coordinator.Open(cfg.Store, m)
	if err != nil {
		slog.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}
	pipeline := importer.NewPipeline(coord, cfg.Import, m)

	if *filePath != "" {
		res, err := pipeline.ApplyFile(ctx, *filePath)
		if err != nil {
			slog.Error("import failed", "file", *filePath, "error", err)
			os.Exit(1)
		}
		slog.Info("import complete",
			"file", *filePath,
			"created", res.Created,
			"updated", res.Updated,
			"unchanged", res.Unchanged,
			"skipped", res.Skipped,
			"new_orgs", res.NewOrgs,
		)
		return
	}

	slog.Info("starting import consumer",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topics.ImportBatches,
	)
	consumer := pkgkafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ImportBatches, importer.BatchHandler(pipeline))
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

// publishFile replays a crawler output file onto the import topic, the same
// path the crawler takes in production. Useful for seeding a dev environment
// or replaying a crawl after a consumer outage.
func publishFile(ctx context.Context, cfg *config.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	batch, err := importer.DecodeBatch(data)
	if err != nil {
		return err
	}
	if batch.FetchedAt.IsZero() {
		batch.FetchedAt = time.Now().UTC()
	}

	producer := pkgkafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ImportBatches)
	defer producer.Close()

	key := batch.FetchedAt.Format(time.RFC3339)
	if err := producer.Publish(ctx, pkgkafka.Event{Key: key, Value: batch}); err != nil {
		return err
	}
	slog.Info("batch published",
		"topic", cfg.Kafka.Topics.ImportBatches,
		"key", key,
		"records", len(batch.Records),
	)
	return nil
}
