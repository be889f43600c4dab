// Package sender delivers CoT payloads to the downstream TAK server over a
// persistent connection. Delivery failures are retried here; callers never
// re-derive lifecycle decisions because of them.
package sender

import (
	"context"

	"github.com/atxtak/cotbridge/internal/utils"
)

// Sender is the delivery capability consumed by the lifecycle engine.
type Sender interface {
	// Deliver queues one serialized CoT event. A full queue or a closed
	// sender reports a delivery-kind error; the caller's store mutation
	// stands regardless.
	Deliver(ctx context.Context, payload []byte) error
	// Healthy reports whether the downstream connection is established.
	Healthy() bool
	Close() error
}

// NopSender discards payloads; used in tests and dry runs.
type NopSender struct {
	Delivered [][]byte
}

// Deliver records the payload and succeeds.
func (s *NopSender) Deliver(_ context.Context, payload []byte) error {
	s.Delivered = append(s.Delivered, append([]byte(nil), payload...))
	return nil
}

// Healthy always reports true.
func (s *NopSender) Healthy() bool { return true }

// Close is a no-op.
func (s *NopSender) Close() error { return nil }

func deliveryErr(op, msg string, err error) error {
	return utils.E(op, utils.KindDelivery, msg, err)
}
