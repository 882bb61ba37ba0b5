// Package billing reports metered usage to the external billing platform.
package billing

import (
	"context"

	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
)

// Reporter delivers usage totals for dirty meters to the billing platform
// and returns the acknowledged rows. An acknowledged row carries Synced set
// to the value the platform accepted; rows the platform rejected are
// omitted and stay dirty for the next sync pass.
type Reporter interface {
	Report(ctx context.Context, meters []meterdomain.Meter) ([]meterdomain.Meter, error)
}

// NoOpReporter acknowledges nothing, leaving every meter dirty.
type NoOpReporter struct{}

func (NoOpReporter) Report(ctx context.Context, meters []meterdomain.Meter) ([]meterdomain.Meter, error) {
	return nil, nil
}
