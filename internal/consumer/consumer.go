package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"pricing-service/internal/service"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "consumer").Logger()

// Reader is satisfied by *kafka.Reader.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader  Reader
	cache   service.RuleCache
	backoff time.Duration
}

func NewConsumer(reader Reader, cache service.RuleCache) *Consumer {
	return &Consumer{reader: reader, cache: cache, backoff: time.Second}
}

// Start reads rule-change events until ctx is cancelled and drops the cached
// rules of every store an event names.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			logger.Error().Msgf("Error reading message: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.processMessage(ctx, msg)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	var event service.RuleChangedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Error().Msgf("Error unmarshalling message %s: %v", msg.Key, err)
		return
	}
	if event.Tenant == "" || event.StoreID == 0 {
		logger.Warn().Msgf("Ignoring rule change without tenant or store: %s", msg.Key)
		return
	}

	if err := c.cache.Invalidate(ctx, event.Tenant, event.StoreID); err != nil {
		logger.Error().Err(err).Msgf("Error invalidating rule cache of %s store %d", event.Tenant, event.StoreID)
		return
	}
	logger.Debug().Str("event_id", event.EventID).Msgf("Rule %d %s, cache of %s store %d dropped", event.RuleID, event.Type, event.Tenant, event.StoreID)
}
