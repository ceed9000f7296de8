// Package events fans persisted scan logs out to live listeners.
package events

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

// Publisher delivers one scan log. Implementations must not block on slow
// consumers.
type Publisher interface {
	Publish(ctx context.Context, log types.ScanLog) error
}

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, log types.ScanLog) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, log); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, types.ScanLog) error { return nil }
