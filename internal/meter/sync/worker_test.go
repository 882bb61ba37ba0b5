package sync

import (
	"context"
	"errors"
	"testing"

	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubService struct {
	meterdomain.Service

	dirty   []meterdomain.Meter
	dumpErr error

	bumped  []meterdomain.Meter
	bumpErr error
}

func (s *stubService) Dump(ctx context.Context, limit int) ([]meterdomain.Meter, error) {
	return s.dirty, s.dumpErr
}

func (s *stubService) Bump(ctx context.Context, meters []meterdomain.Meter) error {
	s.bumped = append(s.bumped, meters...)
	return s.bumpErr
}

type stubReporter struct {
	acked     []meterdomain.Meter
	err       error
	reported  int
	lastBatch []meterdomain.Meter
}

func (r *stubReporter) Report(ctx context.Context, meters []meterdomain.Meter) ([]meterdomain.Meter, error) {
	r.reported++
	r.lastBatch = meters
	return r.acked, r.err
}

func newWorker(svc meterdomain.Service, rep *stubReporter) *Worker {
	return NewWorker(Params{
		Log:      zap.NewNop(),
		Service:  svc,
		Reporter: rep,
		Config:   Config{Enabled: true},
	})
}

func TestRunOnceReportsAndBumps(t *testing.T) {
	dirty := []meterdomain.Meter{
		{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Value: 9, Synced: 2},
	}
	acked := dirty[0]
	acked.Synced = 9

	svc := &stubService{dirty: dirty}
	rep := &stubReporter{acked: []meterdomain.Meter{acked}}

	require.NoError(t, newWorker(svc, rep).RunOnce(context.Background()))

	assert.Equal(t, 1, rep.reported)
	require.Len(t, svc.bumped, 1)
	assert.Equal(t, int64(9), svc.bumped[0].Synced)
}

func TestRunOnceSkipsWhenNothingDirty(t *testing.T) {
	svc := &stubService{}
	rep := &stubReporter{}

	require.NoError(t, newWorker(svc, rep).RunOnce(context.Background()))
	assert.Zero(t, rep.reported)
	assert.Empty(t, svc.bumped)
}

func TestRunOnceSkipsBumpWhenNothingAcknowledged(t *testing.T) {
	svc := &stubService{dirty: []meterdomain.Meter{
		{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Value: 3},
	}}
	rep := &stubReporter{}

	require.NoError(t, newWorker(svc, rep).RunOnce(context.Background()))
	assert.Equal(t, 1, rep.reported)
	assert.Empty(t, svc.bumped)
}

func TestRunOncePropagatesReporterError(t *testing.T) {
	svc := &stubService{dirty: []meterdomain.Meter{
		{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Value: 3},
	}}
	rep := &stubReporter{err: errors.New("upstream unavailable")}

	err := newWorker(svc, rep).RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, svc.bumped)
}

func TestRunOncePropagatesSyncError(t *testing.T) {
	dirty := []meterdomain.Meter{
		{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Value: 3},
	}
	acked := dirty[0]
	acked.Synced = 3

	svc := &stubService{
		dirty:   dirty,
		bumpErr: &meterdomain.SyncError{Failed: 1, Samples: []string{dirty[0].RowKey()}},
	}
	rep := &stubReporter{acked: []meterdomain.Meter{acked}}

	err := newWorker(svc, rep).RunOnce(context.Background())
	var syncErr *meterdomain.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 1, syncErr.Failed)
}
