package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/kabumarket/kabu-market-backend/internal/observability"
)

// RotNotice tells the chat layer that a user's turnips rotted, so the bot
// can break the bad news. No refund accompanies it.
type RotNotice struct {
	UserID     string    `json:"user_id"`
	Quantity   int64     `json:"quantity"`
	Batches    int64     `json:"batches"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits rot notices for downstream consumers.
type Publisher interface {
	PublishRot(ctx context.Context, notice RotNotice) error
	Close()
}

// NATSPublisher publishes rot notices to a JetStream stream.
// Subjects follow the pattern: kabu.market.rotted.{user_id}
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewNATSPublisher connects to NATS and ensures the market events stream.
func NewNATSPublisher(url string, metrics *observability.Metrics, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "KABU_MARKET_EVENTS",
		Subjects:  []string{"kabu.market.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create market events stream: %w", err)
	}

	return &NATSPublisher{nc: nc, js: js, metrics: metrics, log: log}, nil
}

// PublishRot publishes a rot notice. Failures are reported to the caller;
// the reaper treats them as non-fatal since the sweep itself already
// committed.
func (p *NATSPublisher) PublishRot(ctx context.Context, notice RotNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal rot notice: %w", err)
	}

	subject := fmt.Sprintf("kabu.market.rotted.%s", notice.UserID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.RotNoticeFailures.Inc()
		return fmt.Errorf("publish rot notice: %w", err)
	}

	p.metrics.RotNoticesPublished.Inc()
	p.log.Debug().
		Str("user_id", notice.UserID).
		Int64("quantity", notice.Quantity).
		Msg("published rot notice")
	return nil
}

// Close drains the NATS connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}

// NoopPublisher is used when no NATS URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishRot(context.Context, RotNotice) error { return nil }
func (NoopPublisher) Close()                                      {}
