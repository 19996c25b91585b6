// Package trigger carries object-created notifications from storage to the
// dispatcher with at-least-once delivery.
package trigger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadySettled is returned when a delivery is acked or nacked twice.
var ErrAlreadySettled = errors.New("trigger: delivery already settled")

// Queue is an at-least-once message channel. Receive blocks until at least
// one message is available, the backend's wait window elapses (returning an
// empty slice), or ctx is done.
type Queue interface {
	Receive(ctx context.Context) ([]*Delivery, error)
	Publish(ctx context.Context, body []byte) error
}

// RetryPolicy bounds redelivery of nacked messages. The delay before the
// next delivery grows linearly with the deliveries already made; a message
// nacked on its MaxAttempts-th delivery is dead-lettered. MaxAttempts <= 0
// retries forever.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 5 * time.Second, MaxBackoff: 5 * time.Minute}
}

// Exhausted reports whether a message nacked after attempts deliveries
// must stop being redelivered.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Delay is how long a message nacked after attempts deliveries stays hidden.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	d := p.Backoff * time.Duration(attempts)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d < 0 {
		return 0
	}
	return d
}

// Delivery is one received message. Exactly one of Ack or Nack should be
// called; an unsettled delivery is eventually redelivered by the backend.
type Delivery struct {
	ID       string
	Body     []byte
	Attempts int

	once   sync.Once
	ackFn  func(context.Context) error
	nackFn func(context.Context) error
}

func newDelivery(id string, body []byte, attempts int, ack, nack func(context.Context) error) *Delivery {
	return &Delivery{ID: id, Body: body, Attempts: attempts, ackFn: ack, nackFn: nack}
}

// Ack removes the message from redelivery.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.settle(ctx, d.ackFn)
}

// Nack returns the message for delayed redelivery, or dead-letters it once
// the backend's retry policy is exhausted.
func (d *Delivery) Nack(ctx context.Context) error {
	return d.settle(ctx, d.nackFn)
}

func (d *Delivery) settle(ctx context.Context, fn func(context.Context) error) error {
	err := ErrAlreadySettled
	d.once.Do(func() {
		if fn == nil {
			err = nil
			return
		}
		err = fn(ctx)
	})
	return err
}
