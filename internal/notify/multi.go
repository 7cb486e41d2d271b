package notify

import (
	"context"
	"errors"

	"github.com/oddsflow/settler/internal/domain"
)

// Multi fans one lifecycle event out to several publishers, e.g. the
// operator channels and the websocket feed. Every publisher sees the event
// even when an earlier one fails.
type Multi []domain.Publisher

// Publish delivers ev to every publisher and joins their errors.
func (m Multi) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
