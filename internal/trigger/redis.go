package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"videojobs/internal/domain"
)

// RedisQueue is a reliable list queue: Receive atomically moves a message
// into a per-consumer processing list and Ack removes it from there. Nack
// parks the message in a delayed set scored by its due time; Receive
// promotes due messages back to the main list. Messages that exhaust the
// retry policy are pushed to the dead-letter list.
type RedisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
	delayedKey    string
	deadKey       string
	BlockTimeout  time.Duration
	Retry         RetryPolicy

	now func() time.Time
}

// redisMessage is the stored form of a message. Attempts counts completed
// deliveries.
type redisMessage struct {
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
	Body     []byte `json:"body"`
}

const promoteBatch = 100

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

func NewRedisQueue(client *redis.Client, key, consumer string) *RedisQueue {
	return &RedisQueue{
		client:        client,
		key:           key,
		processingKey: fmt.Sprintf("%s:processing:%s", key, consumer),
		delayedKey:    key + ":delayed",
		deadKey:       key + ":dead",
		BlockTimeout:  20 * time.Second,
		Retry:         DefaultRetryPolicy(),
		now:           time.Now,
	}
}

// Recover returns messages left in this consumer's processing list by a
// previous crash to the main list. It reports how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.key, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis recover: %w", domain.Transient(err))
		}
		moved++
	}
}

// DeadLetters reports how many messages were dead-lettered.
func (q *RedisQueue) DeadLetters(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.deadKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dead letters: %w", domain.Transient(err))
	}
	return n, nil
}

func (q *RedisQueue) Receive(ctx context.Context) ([]*Delivery, error) {
	if err := q.promote(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	payload, err := q.client.BLMove(ctx, q.key, q.processingKey, "RIGHT", "LEFT", q.blockTimeout(ctx)).Result()
	if errors.Is(err, redis.Nil) {
		return []*Delivery{}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis receive: %w", domain.Transient(err))
	}

	msg := decodeRedisMessage(payload)
	msg.Attempts++
	return []*Delivery{newDelivery(
		msg.ID,
		msg.Body,
		msg.Attempts,
		func(ctx context.Context) error { return q.ack(ctx, payload) },
		func(ctx context.Context) error { return q.nack(ctx, payload, msg) },
	)}, nil
}

func (q *RedisQueue) Publish(ctx context.Context, body []byte) error {
	payload, err := json.Marshal(redisMessage{ID: uuid.NewString(), Body: body})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", domain.Transient(err))
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := q.now().UnixMilli()
	err := promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.key}, now, promoteBatch).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis promote: %w", domain.Transient(err))
	}
	return nil
}

// blockTimeout shortens the blocking wait so the earliest delayed message is
// promoted close to its due time.
func (q *RedisQueue) blockTimeout(ctx context.Context) time.Duration {
	wait := q.BlockTimeout
	next, err := q.client.ZRangeWithScores(ctx, q.delayedKey, 0, 0).Result()
	if err != nil || len(next) == 0 {
		return wait
	}
	until := time.UnixMilli(int64(next[0].Score)).Sub(q.now())
	if until < time.Second {
		until = time.Second
	}
	if until < wait {
		wait = until
	}
	return wait
}

func (q *RedisQueue) ack(ctx context.Context, payload string) error {
	if err := q.client.LRem(ctx, q.processingKey, 1, payload).Err(); err != nil {
		return fmt.Errorf("redis ack: %w", domain.Transient(err))
	}
	return nil
}

func (q *RedisQueue) nack(ctx context.Context, payload string, msg redisMessage) error {
	next, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis nack: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, payload)
		if q.Retry.Exhausted(msg.Attempts) {
			pipe.LPush(ctx, q.deadKey, next)
			return nil
		}
		due := q.now().Add(q.Retry.Delay(msg.Attempts))
		pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: string(next)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis nack: %w", domain.Transient(err))
	}
	return nil
}

// decodeRedisMessage accepts raw bodies pushed by other producers as a first
// delivery.
func decodeRedisMessage(payload string) redisMessage {
	var msg redisMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil || msg.ID == "" {
		return redisMessage{ID: uuid.NewString(), Body: []byte(payload)}
	}
	return msg
}

var _ Queue = (*RedisQueue)(nil)
