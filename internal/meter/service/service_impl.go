package service

import (
	"context"
	"sort"
	"strings"

	"github.com/evalhub/meterd/internal/billingperiod"
	"github.com/evalhub/meterd/internal/clock"
	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	meterquota "github.com/evalhub/meterd/internal/meter/quota"
	obsmetrics "github.com/evalhub/meterd/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	bumpChunkSize = 25
	sampleLimit   = 5
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    meterdomain.Repository
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    meterdomain.Repository
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) meterdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("meter.service"),
		repo:    p.Repo,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Check(ctx context.Context, delta meterdomain.MeterDelta, q meterdomain.Quota, anchor *int) (bool, meterdomain.Meter, error) {
	delta, err := s.normalize(delta, q, anchor)
	if err != nil {
		return false, meterdomain.Meter{}, err
	}

	row, err := s.repo.GetOne(ctx, s.db, delta.OrganizationID, delta.Key, delta.Year, delta.Month)
	if err != nil {
		return false, meterdomain.Meter{}, err
	}

	var current, synced int64
	if row != nil {
		current, synced = row.Value, row.Synced
	}

	allowed := meterquota.Admit(current, delta, q)

	s.recordAdmission(ctx, delta.Key, allowed)

	// The returned meter carries the stored pre-adjustment value; callers
	// use allowed to decide whether to follow up with Adjust.
	return allowed, meterdomain.Meter{
		OrganizationID: delta.OrganizationID,
		Key:            delta.Key,
		Year:           delta.Year,
		Month:          delta.Month,
		Value:          current,
		Synced:         synced,
	}, nil
}

func (s *Service) Adjust(ctx context.Context, delta meterdomain.MeterDelta, q meterdomain.Quota, anchor *int) (bool, meterdomain.Meter, func(), error) {
	noop := func() {}

	delta, err := s.normalize(delta, q, anchor)
	if err != nil {
		return false, meterdomain.Meter{}, noop, err
	}

	var desired int64
	switch {
	case delta.Set != nil:
		desired = *delta.Set
	case delta.Inc != nil:
		desired = *delta.Inc
	}
	desired = clamp(desired)

	meter := meterdomain.Meter{
		OrganizationID: delta.OrganizationID,
		Key:            delta.Key,
		Year:           delta.Year,
		Month:          delta.Month,
	}

	// Degenerate case: an absolute value that by itself exceeds quota can
	// never commit, independent of any existing row.
	if q.Limit != nil && desired > *q.Limit {
		s.recordAdmission(ctx, delta.Key, false)
		return false, meter, noop, nil
	}

	pred, err := meterquota.PredicateFor(delta, q)
	if err != nil {
		return false, meterdomain.Meter{}, noop, err
	}

	committed, err := s.repo.ConditionalUpsert(ctx, s.db, delta, desired, pred)
	if err != nil {
		return false, meterdomain.Meter{}, noop, err
	}

	allowed := committed != nil
	if allowed {
		meter.Value = *committed
	} else {
		// Proposed, not committed: lets the caller report what was
		// attempted.
		meter.Value = desired
	}

	s.recordAdmission(ctx, delta.Key, allowed)

	return allowed, meter, noop, nil
}

func (s *Service) Fetch(ctx context.Context, filter meterdomain.MeterFilter) ([]meterdomain.Meter, error) {
	filter.OrganizationID = strings.TrimSpace(filter.OrganizationID)
	if filter.OrganizationID == "" {
		return nil, meterdomain.ErrInvalidOrganization
	}
	return s.repo.GetMany(ctx, s.db, filter)
}

func (s *Service) Dump(ctx context.Context, limit int) ([]meterdomain.Meter, error) {
	s.log.Info("dump starting", zap.Int("limit", limit))

	rows, err := s.repo.GetUnsynced(ctx, s.db, limit)
	if err != nil {
		s.log.Error("dump query failed", zap.Error(err))
		return nil, err
	}

	meters := make([]meterdomain.Meter, 0, len(rows))
	for _, row := range rows {
		if err := validateExport(row); err != nil {
			s.log.Error("skipping meter that failed conversion",
				zap.String("meter", row.RowKey()),
				zap.Error(err),
			)
			continue
		}
		meters = append(meters, row)
	}

	s.log.Info("dump complete",
		zap.Int("found", len(rows)),
		zap.Int("exported", len(meters)),
	)
	return meters, nil
}

func (s *Service) Bump(ctx context.Context, meters []meterdomain.Meter) error {
	if len(meters) == 0 {
		return nil
	}

	s.log.Info("bump starting", zap.Int("meters", len(meters)))

	sorted := sortByRowKey(meters)

	unique := make(map[string]struct{}, len(sorted))
	for _, m := range sorted {
		unique[m.RowKey()] = struct{}{}
	}
	if len(unique) != len(sorted) {
		// Duplicates are tolerated: each row is applied independently and
		// SetSynced converges idempotently.
		s.log.Warn("duplicate meter rows in batch",
			zap.Int("attempted", len(sorted)),
			zap.Int("unique", len(unique)),
		)
	}

	var (
		updated, missing, failed      int
		missingSamples, failedSamples []string
	)

	totalChunks := (len(sorted) + bumpChunkSize - 1) / bumpChunkSize
	for idx := 0; idx < len(sorted); idx += bumpChunkSize {
		end := idx + bumpChunkSize
		if end > len(sorted) {
			end = len(sorted)
		}
		chunk := sorted[idx:end]
		chunkNo := idx/bumpChunkSize + 1

		chunkUpdated, chunkMissing, chunkMissingSamples, err := s.commitChunk(ctx, chunk)
		if err == nil {
			updated += chunkUpdated
			missing += chunkMissing
			missingSamples = appendSamples(missingSamples, chunkMissingSamples)
			continue
		}

		s.log.Error("chunk commit failed, retrying row-by-row",
			zap.Int("chunk", chunkNo),
			zap.Int("total_chunks", totalChunks),
			zap.Error(err),
		)

		for _, m := range chunk {
			rowUpdated, rowMissing, rowMissingSamples, err := s.commitChunk(ctx, []meterdomain.Meter{m})
			if err != nil {
				failed++
				if len(failedSamples) < sampleLimit {
					failedSamples = append(failedSamples, m.RowKey())
				}
				s.log.Error("row fallback failed",
					zap.String("meter", m.RowKey()),
					zap.Int64("synced", m.Synced),
					zap.Int64("value", m.Value),
					zap.Error(err),
				)
				continue
			}
			updated += rowUpdated
			missing += rowMissing
			missingSamples = appendSamples(missingSamples, rowMissingSamples)
		}
	}

	if missing > 0 {
		s.log.Warn("missing rows after commits",
			zap.Int("attempted", len(sorted)),
			zap.Int("updated", updated),
			zap.Int("missing", missing),
			zap.Strings("samples", missingSamples),
		)
	}

	s.log.Info("bump summary",
		zap.Int("attempted", len(sorted)),
		zap.Int("updated", updated),
		zap.Int("missing", missing),
		zap.Int("failed", failed),
	)

	if s.metrics != nil {
		s.metrics.RecordSync(ctx, updated, missing, failed)
	}

	if failed > 0 {
		return &meterdomain.SyncError{Failed: failed, Samples: failedSamples}
	}
	return nil
}

// commitChunk applies SetSynced for every row of the chunk in a single
// transaction. Rows affecting zero rows are counted as missing, which is a
// distinct outcome from a write failure. On error the transaction rolls
// back and no counts are reported.
func (s *Service) commitChunk(ctx context.Context, chunk []meterdomain.Meter) (int, int, []string, error) {
	var (
		updated, missing int
		missingSamples   []string
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range chunk {
			affected, err := s.repo.SetSynced(ctx, tx, m.OrganizationID, m.Key, m.Year, m.Month, m.Synced)
			if err != nil {
				return err
			}
			if affected == 0 {
				missing++
				if len(missingSamples) < sampleLimit {
					missingSamples = append(missingSamples, m.RowKey())
				}
				s.log.Warn("no rows updated",
					zap.String("meter", m.RowKey()),
					zap.Int64("synced", m.Synced),
					zap.Int64("value", m.Value),
				)
			} else {
				updated += int(affected)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, nil, err
	}
	return updated, missing, missingSamples, nil
}

// normalize validates identifiers and recomputes the billing period from
// the anchor for monthly quotas. It returns a new delta, never mutating the
// caller's copy.
func (s *Service) normalize(delta meterdomain.MeterDelta, q meterdomain.Quota, anchor *int) (meterdomain.MeterDelta, error) {
	delta.OrganizationID = strings.TrimSpace(delta.OrganizationID)
	if delta.OrganizationID == "" {
		return delta, meterdomain.ErrInvalidOrganization
	}

	delta.Key = strings.TrimSpace(delta.Key)
	if delta.Key == "" {
		return delta, meterdomain.ErrInvalidKey
	}

	if q.Monthly {
		delta.Year, delta.Month = billingperiod.Compute(s.clock.Now(), anchor)
		return delta, nil
	}

	if delta.Month < 1 || delta.Month > 12 || delta.Year <= 0 {
		return delta, meterdomain.ErrInvalidPeriod
	}
	return delta, nil
}

func (s *Service) recordAdmission(ctx context.Context, key string, allowed bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAdmission(ctx, key, allowed)
}

func validateExport(m meterdomain.Meter) error {
	if strings.TrimSpace(m.OrganizationID) == "" {
		return meterdomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(m.Key) == "" {
		return meterdomain.ErrInvalidKey
	}
	if m.Month < 1 || m.Month > 12 {
		return meterdomain.ErrInvalidPeriod
	}
	return nil
}

func sortByRowKey(meters []meterdomain.Meter) []meterdomain.Meter {
	sorted := make([]meterdomain.Meter, len(meters))
	copy(sorted, meters)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.OrganizationID != b.OrganizationID {
			return a.OrganizationID < b.OrganizationID
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
	return sorted
}

func appendSamples(dst, src []string) []string {
	for _, sample := range src {
		if len(dst) >= sampleLimit {
			break
		}
		dst = append(dst, sample)
	}
	return dst
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
