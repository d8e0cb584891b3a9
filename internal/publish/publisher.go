package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/fomc-tracker/internal/models"
	"github.com/DeafMist/fomc-tracker/internal/processing"
)

const maxAttempts = 5

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the payload announcing a newly ingested communication.
type Event struct {
	ID          string      `json:"id"`
	Date        string      `json:"date"`
	ReleaseDate string      `json:"release_date"`
	Type        models.Type `json:"type"`
	Summary     string      `json:"summary"`
	Text        string      `json:"text"`
	RunID       string      `json:"run_id"`
}

// Publisher announces new communications on a Kafka topic.
type Publisher struct {
	w       messageWriter
	log     *slog.Logger
	backoff time.Duration
}

// New creates a publisher writing to topic on brokers.
func New(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}
	return newPublisher(w, logger, time.Second)
}

func newPublisher(w messageWriter, logger *slog.Logger, backoff time.Duration) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{w: w, log: logger, backoff: backoff}
}

// Publish writes one message per communication, keyed by document id, retrying
// the whole batch with exponential backoff.
func (p *Publisher) Publish(ctx context.Context, runID string, comms []models.Communication) error {
	if len(comms) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(comms))
	for _, c := range comms {
		ev := Event{
			ID:          processing.BuildDocumentID(c.Date, c.Type),
			Date:        models.FormatDate(c.Date),
			ReleaseDate: models.FormatDate(c.ReleaseDate),
			Type:        c.Type,
			Summary:     processing.Summary(c.Text, 25),
			Text:        c.Text,
			RunID:       runID,
		}
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.ID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(c.Type)},
				{Key: "run_id", Value: []byte(runID)},
			},
		})
	}

	var lastErr error
	for attempt := range maxAttempts {
		if lastErr = p.w.WriteMessages(ctx, msgs...); lastErr == nil {
			p.log.Info("published communications",
				slog.Int("count", len(msgs)),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		backoff := p.backoff * time.Duration(1<<uint(attempt))
		p.log.Warn("publish failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("publish communications: %w", ctx.Err())
		}
	}
	return fmt.Errorf("publish communications after %d attempts: %w", maxAttempts, lastErr)
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
