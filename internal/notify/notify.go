// Package notify delivers cycle count lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inventory-backend/internal/cyclecount"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// LogNotifier writes every event to the process log.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, evt cyclecount.Event) error {
	fields := logrus.Fields{
		"event_id":     evt.ID,
		"event_type":   evt.Type,
		"reference_id": evt.ReferenceID,
	}
	if evt.Recipient != nil {
		fields["recipient"] = *evt.Recipient
	}
	n.logger.WithFields(fields).Info(evt.Message)
	return nil
}

// Publisher is the part of a redis client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, evt cyclecount.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Type, n.channel, err)
	}
	return nil
}

// Fanout hands each event to every notifier and joins their errors.
type Fanout []cyclecount.Notifier

func (f Fanout) Notify(ctx context.Context, evt cyclecount.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect opens a redis client and pings it once.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       0,
		PoolSize: 20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return client, nil
}
