// Package kafkaconsumer keeps the cache coherent with the remote token
// index by consuming its change feed. Upserts merge through the same
// path fetch results take; deletes remove from both tiers.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	obs "github.com/mohammed-shakir/geotoken-cache/internal/core/observability"
	"github.com/mohammed-shakir/geotoken-cache/internal/invalidation"
)

// Applier is the slice of the cache the consumer mutates.
type Applier interface {
	ApplyUpsert(t *model.Token) error
	ApplyDelete(ctx context.Context, ids []string) error
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	applier Applier
}

func New(cfg Config, logger *slog.Logger, applier Applier) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg.withDefaults(), logger: logger, applier: applier}
}

// Start joins the consumer group and processes events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.applier == nil {
		return errors.New("kafkaconsumer: missing applier")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("token invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("token invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "topic", c.cfg.Topic, "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single change event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveInvalidation("decode", err)
		c.logger.Error("invalidation decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		// Malformed events are logged and skipped; replaying them on
		// rebalance would wedge the partition.
		obs.ObserveInvalidation(ev.Op, err)
		c.logger.Warn("invalid invalidation event skipped",
			"op", ev.Op, "offset", msg.Offset, "err", err)
		return nil
	}

	switch ev.Op {
	case invalidation.OpUpsert:
		if err := c.applier.ApplyUpsert(ev.Token); err != nil {
			obs.ObserveInvalidation(ev.Op, err)
			return fmt.Errorf("apply upsert %s: %w", ev.Token.ID, err)
		}
		c.logger.Debug("invalidation upsert applied", "id", ev.Token.ID, "source", ev.Source)
	case invalidation.OpDelete:
		if err := c.applier.ApplyDelete(ctx, ev.IDs); err != nil {
			obs.ObserveInvalidation(ev.Op, err)
			return fmt.Errorf("apply delete: %w", err)
		}
		c.logger.Debug("invalidation delete applied", "ids", len(ev.IDs), "source", ev.Source)
	}

	obs.ObserveInvalidation(ev.Op, nil)
	return nil
}
