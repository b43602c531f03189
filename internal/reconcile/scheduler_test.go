package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls   atomic.Int32
	trigger atomic.Value
	err     error
}

func (s *countingSweeper) Sweep(_ context.Context, _ time.Time, trigger string) (Result, error) {
	s.calls.Add(1)
	s.trigger.Store(trigger)
	return Result{}, s.err
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler("every now and then", &countingSweeper{}, time.Minute, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reconcile schedule")
}

func TestNewScheduler_AcceptsDescriptorsAndCron(t *testing.T) {
	for _, spec := range []string{"@hourly", "@daily", "0 * * * *", "*/15 * * * *"} {
		_, err := NewScheduler(spec, &countingSweeper{}, time.Minute, nil)
		assert.NoError(t, err, spec)
	}
}

func TestScheduler_TickRunsScheduledSweep(t *testing.T) {
	sw := &countingSweeper{err: errors.New("boom")}
	s, err := NewScheduler("@hourly", sw, time.Minute, nil)
	require.NoError(t, err)

	s.tick()
	assert.Equal(t, int32(1), sw.calls.Load())
	assert.Equal(t, models.SweepTriggerSchedule, sw.trigger.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler("@hourly", &countingSweeper{}, time.Minute, nil)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
