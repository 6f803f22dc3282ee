package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/client"
	"github.com/afroash/krishi-monitor/internal/config"
	"github.com/afroash/krishi-monitor/internal/logging"
	"github.com/afroash/krishi-monitor/internal/models"
	"github.com/afroash/krishi-monitor/internal/recommend"
	"github.com/afroash/krishi-monitor/internal/sensor"
)

var version = "v0.3.0"

// batchSize caps readings per batch when draining the offline buffer
const batchSize = 50

func main() {
	configPath := flag.String("config", "configs/simulator.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging, "krishi-simulator")
	logger.Info().
		Str("version", version).
		Str("config", cfg.String()).
		Msg("Starting field node simulator")

	nodeInfo := models.NewNodeInfo(cfg.Node.ID, cfg.Node.Location, cfg.Node.Crop, version)

	field := sensor.NewSimulatedSensor(recommend.NewResolver(nil), recommend.ReadingInput{})
	reader := sensor.NewReader(field, nodeInfo, cfg.Node.ReadInterval, logger)
	defer reader.Close()

	buffer := client.NewReadingBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)

	conn := client.NewConnection(client.ConnectionConfig{
		URL:                  cfg.Server.URL,
		AuthToken:            cfg.Server.AuthToken,
		ConnectTimeout:       cfg.Server.ConnectTimeout,
		ReconnectInterval:    cfg.Server.ReconnectInterval,
		MaxReconnectInterval: cfg.Server.MaxReconnectInterval,
		PingInterval:         cfg.Server.PingInterval,
		PongTimeout:          cfg.Server.PongTimeout,
	}, nodeInfo, logger)
	conn.SetBufferSizeFunc(buffer.Size)
	conn.OnConnect(func() { flushBuffer(conn, buffer, logger) })

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Connection manager stopped")
		}
	}()

	if err := run(ctx, reader, buffer, conn, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Simulator failed")
		os.Exit(1)
	}

	if err := conn.Close(); err != nil {
		logger.Warn().Err(err).Msg("Close connection")
	}
	logger.Info().
		Interface("buffer", buffer.Stats()).
		Interface("connection", conn.Stats()).
		Int("buffered", buffer.Size()).
		Msg("Simulator stopped")
}

// run forwards readings to the server, buffering them while offline.
// A nil conn keeps every reading in the buffer.
func run(ctx context.Context, reader *sensor.Reader, buffer *client.ReadingBuffer, conn *client.Connection, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- reader.Start(ctx) }()

	for reading := range reader.Readings() {
		if conn == nil || !conn.IsConnected() {
			buffer.Push(reading)
			logger.Debug().Int("buffered", buffer.Size()).Msg("Offline, reading buffered")
			continue
		}
		if !buffer.IsEmpty() {
			flushBuffer(conn, buffer, logger)
		}
		if err := conn.Send(reading); err != nil {
			logger.Warn().Err(err).Msg("Send failed, buffering reading")
			buffer.Push(reading)
		}
	}

	return <-errCh
}

func flushBuffer(conn *client.Connection, buffer *client.ReadingBuffer, logger zerolog.Logger) {
	for !buffer.IsEmpty() {
		batch := buffer.PopBatch(batchSize)
		if err := conn.SendBatch(batch); err != nil {
			buffer.Requeue(batch)
			logger.Warn().Err(err).Int("buffered", buffer.Size()).Msg("Flush failed, readings requeued")
			return
		}
		logger.Info().Int("count", len(batch)).Msg("Flushed buffered readings")
	}
}
