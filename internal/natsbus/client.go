package natsbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"insafe-backend/internal/models"
)

const (
	StreamName    = "INSAFE_EVENTS"
	subjectPrefix = "insafe"
	eventVersion  = 1
)

// Publisher emits domain events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Nop drops every event. It is used when NATS_URL is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, models.Event) error { return nil }

type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger
}

// Connect establishes the NATS connection and makes sure the event stream exists.
func Connect(url string, logger zerolog.Logger) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	logger = logger.With().Str("component", "natsbus").Logger()

	opts := []nats.Option{
		nats.Name("insafe-backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1 * time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &Client{nc: nc, js: js, logger: logger}, nil
}

// Publish encodes ev with msgpack and stores it on insafe.<agentId>.<kind>.
func (c *Client) Publish(ctx context.Context, ev models.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := c.js.Publish(Subject(ev.AgentID, ev.Kind), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() error {
	return c.nc.Drain()
}

// Subject is the stream subject for one agent's event.
func Subject(agentID, kind string) string {
	if agentID == "" {
		agentID = "_"
	}
	return subjectPrefix + "." + agentID + "." + kind
}

// Encode stamps version and time when missing and marshals ev.
func Encode(ev models.Event) ([]byte, error) {
	if ev.V == 0 {
		ev.V = eventVersion
	}
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind, err)
	}
	return data, nil
}

func Decode(data []byte) (models.Event, error) {
	var ev models.Event
	err := msgpack.Unmarshal(data, &ev)
	return ev, err
}

func ensureStream(js nats.JetStreamContext, logger zerolog.Logger) error {
	_, err := js.StreamInfo(StreamName)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       StreamName,
			Subjects:   []string{subjectPrefix + ".*.>"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			MaxBytes:   1024 * 1024 * 1024, // 1GB
			MaxMsgSize: 64 * 1024,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", StreamName, err)
		}
		logger.Info().Str("stream", StreamName).Msg("created JetStream stream")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	return nil
}

// Emit publishes ev and logs instead of failing; events never break a request.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, ev models.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("event", ev.Kind).Str("agent_id", ev.AgentID).Msg("event publish failed")
	}
}
