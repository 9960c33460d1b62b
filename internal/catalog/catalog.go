// Package catalog publishes stock levels to downstream catalogs: a Redis
// cache that storefronts read, and a stock.level event on Kafka.
package catalog

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/webshop-saga/internal/domain/stock"
	"github.com/xenking/webshop-saga/internal/events"
)

const (
	keyPrefix = "stock:"
	// Channel receives every accepted level update.
	Channel = "catalog:stock"
)

// ErrNotCached is returned by Level when no level is stored for a product.
var ErrNotCached = errors.New("stock level not cached")

// storeLevelScript writes a level only when it is newer than the stored one,
// so late publications never overwrite fresher counts.
//
// KEYS[1] level key; ARGV: available, seq, ttl ms, channel, message. seq is
// unix micros, which Lua numbers hold exactly.
var storeLevelScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'seq')
if current and tonumber(current) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'available', ARGV[1], 'seq', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
redis.call('PUBLISH', ARGV[4], ARGV[5])
return 1
`)

// LevelEvent is the stock.level payload.
type LevelEvent struct {
	Level stock.Level
}

func (LevelEvent) EventType() string { return events.TopicStockLevel }

func (ev LevelEvent) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Int64(ev.Level.ProductID) })
		e.Field("available", func(e *jx.Encoder) { e.Int(ev.Level.Available) })
		e.Field("at", func(e *jx.Encoder) { e.Str(ev.Level.At.UTC().Format(time.RFC3339Nano)) })
	})
}

// Syncer implements stock.LevelPublisher. Both sinks are optional.
type Syncer struct {
	rdb    redis.Cmdable
	events events.Publisher
	ttl    time.Duration
}

var _ stock.LevelPublisher = (*Syncer)(nil)

// NewSyncer creates a Syncer. rdb and pub may be nil.
func NewSyncer(rdb redis.Cmdable, pub events.Publisher, ttl time.Duration) *Syncer {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Syncer{rdb: rdb, events: pub, ttl: ttl}
}

// PublishLevel caches the level and emits a stock.level event. Both sinks
// are attempted even when one of them fails.
func (s *Syncer) PublishLevel(ctx context.Context, lvl stock.Level) error {
	if lvl.At.IsZero() {
		lvl.At = time.Now()
	}

	cacheErr := s.cache(ctx, lvl)
	if err := s.events.Publish(ctx, events.Event{
		Topic:   events.TopicStockLevel,
		Key:     strconv.FormatInt(lvl.ProductID, 10),
		Payload: LevelEvent{Level: lvl},
	}); err != nil {
		return errors.Join(cacheErr, errors.Wrap(err, "publish stock event"))
	}
	return cacheErr
}

func (s *Syncer) cache(ctx context.Context, lvl stock.Level) error {
	if s.rdb == nil {
		return nil
	}
	var msg jx.Encoder
	LevelEvent{Level: lvl}.Encode(&msg)
	err := storeLevelScript.Run(ctx, s.rdb,
		[]string{levelKey(lvl.ProductID)},
		lvl.Available,
		lvl.At.UnixMicro(),
		s.ttl.Milliseconds(),
		Channel,
		string(msg.Bytes()),
	).Err()
	if err != nil {
		return errors.Wrapf(err, "cache stock level for product %d", lvl.ProductID)
	}
	return nil
}

// Level reads the cached level of a product.
func (s *Syncer) Level(ctx context.Context, productID int64) (stock.Level, error) {
	if s.rdb == nil {
		return stock.Level{}, ErrNotCached
	}
	vals, err := s.rdb.HMGet(ctx, levelKey(productID), "available", "seq").Result()
	if err != nil {
		return stock.Level{}, errors.Wrapf(err, "read stock level for product %d", productID)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return stock.Level{}, ErrNotCached
	}

	available, err := strconv.Atoi(toString(vals[0]))
	if err != nil {
		return stock.Level{}, errors.Wrap(err, "parse available")
	}
	seq, err := strconv.ParseInt(toString(vals[1]), 10, 64)
	if err != nil {
		return stock.Level{}, errors.Wrap(err, "parse seq")
	}
	return stock.Level{
		ProductID: productID,
		Available: available,
		At:        time.UnixMicro(seq).UTC(),
	}, nil
}

func levelKey(productID int64) string {
	return keyPrefix + strconv.FormatInt(productID, 10)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
