// Package rediscounter keeps the queue counter in Redis so allocation does
// not contend on the settings row. The settings row still follows the
// counter, so a lost key is reseeded close to where it stopped.
package rediscounter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultKey = "qrfood:queue_counter"

// Mirror is the persisted copy of the counter. RecordCounter must never
// lower the stored value, since mirror writes can land out of order.
type Mirror interface {
	RecordCounter(ctx context.Context, value int) error
	Reset(ctx context.Context) error
}

type Counter struct {
	client *redis.Client
	key    string
	mirror Mirror
}

// NewCounter returns a counter on key. mirror may be nil.
func NewCounter(client *redis.Client, key string, mirror Mirror) *Counter {
	if key == "" {
		key = DefaultKey
	}
	return &Counter{client: client, key: key, mirror: mirror}
}

// IncrementAndGet relies on INCR, which is atomic across every client of the
// same Redis instance. A failed mirror write is logged; the number stands.
func (c *Counter) IncrementAndGet(ctx context.Context) (int, error) {
	n, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("c.client.Incr(%s): %w", c.key, err)
	}
	if c.mirror != nil {
		if err := c.mirror.RecordCounter(ctx, int(n)); err != nil {
			logrus.WithError(err).WithField("queue_counter", n).Warn("rediscounter: mirror write failed")
		}
	}
	return int(n), nil
}

func (c *Counter) Reset(ctx context.Context) error {
	if err := c.client.Set(ctx, c.key, 0, 0).Err(); err != nil {
		return fmt.Errorf("c.client.Set(%s): %w", c.key, err)
	}
	if c.mirror != nil {
		if err := c.mirror.Reset(ctx); err != nil {
			return fmt.Errorf("reset mirror: %w", err)
		}
	}
	return nil
}

// Seed initialises the key from a persisted counter unless it already exists,
// so switching backends does not restart numbering.
func (c *Counter) Seed(ctx context.Context, value int) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("c.client.SetNX(%s): %w", c.key, err)
	}
	return ok, nil
}
