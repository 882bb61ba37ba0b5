package billing

import (
	"context"

	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	"go.uber.org/zap"
)

// LogReporter is the development reporter. It logs every dirty meter and
// acknowledges it at its current value, so local sync loops converge
// without an external billing platform.
type LogReporter struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogReporter {
	return &LogReporter{log: log.Named("billing.log_reporter")}
}

func (r *LogReporter) Report(ctx context.Context, meters []meterdomain.Meter) ([]meterdomain.Meter, error) {
	acked := make([]meterdomain.Meter, 0, len(meters))
	for _, m := range meters {
		r.log.Info("usage reported",
			zap.String("meter", m.RowKey()),
			zap.Int64("value", m.Value),
			zap.Int64("synced", m.Synced),
		)
		m.Synced = m.Value
		acked = append(acked, m)
	}
	return acked, nil
}
