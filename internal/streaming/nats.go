package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

const (
	defaultStreamName = "THREATPULSE"
	defaultSubject    = "threats.snapshot"
)

// ErrNATSDisconnected is returned when publishing without a live connection
var ErrNATSDisconnected = errors.New("NATS not connected")

// NATSPublisher publishes committed snapshots to a JetStream subject
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  *logger.Logger
}

// NewNATSPublisher connects to NATS and ensures the snapshot stream exists
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	log = log.WithComponent("nats")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = defaultStreamName
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connecting to NATS")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("threatpulse"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, snapshotStreamConfig(cfg))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Info().Str("stream", stream.CachedInfo().Config.Name).Str("subject", cfg.Subject).Msg("NATS stream ready")

	return &NATSPublisher{
		conn:    conn,
		js:      js,
		subject: cfg.Subject,
		logger:  log,
	}, nil
}

// snapshotStreamConfig keeps a day of snapshots under the subject's root
func snapshotStreamConfig(cfg config.NATSConfig) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "threatpulse aggregate snapshots",
		Subjects:    []string{streamSubject(cfg.Subject)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000,
		MaxBytes:    256 * 1024 * 1024,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  10 * time.Minute,
	}
}

// streamSubject widens "a.b.c" to "a.>" so related subjects share a stream
func streamSubject(subject string) string {
	root, _, found := strings.Cut(subject, ".")
	if !found {
		return subject
	}
	return root + ".>"
}

// Name identifies the publisher as a snapshot sink
func (p *NATSPublisher) Name() string {
	return "nats"
}

// IsConnected returns whether NATS is connected
func (p *NATSPublisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// PublishSnapshot publishes the snapshot with its ID as the message ID,
// so a retried publish is deduplicated by the stream
func (p *NATSPublisher) PublishSnapshot(ctx context.Context, snap *models.AggregateSnapshot) error {
	if !p.IsConnected() {
		return ErrNATSDisconnected
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var opts []jetstream.PublishOpt
	if snap.ID != "" {
		opts = append(opts, jetstream.WithMsgID(snap.ID))
	}
	ack, err := p.js.Publish(ctx, p.subject, data, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	p.logger.Debug().
		Str("subject", p.subject).
		Str("snapshot_id", snap.ID).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published snapshot")
	return nil
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
