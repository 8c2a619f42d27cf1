package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/servicing"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepOverdue(context.Context) (servicing.SweepResult, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return servicing.SweepResult{}, s.err
	}
	return servicing.SweepResult{AsOf: lending.NewDate(2024, time.January, 13), Checked: int(n)}, nil
}

func TestOverdueSweeper_RunNowRecordsResult(t *testing.T) {
	fake := &countingSweeper{}
	sweeper := NewOverdueSweeper(fake, nil)

	_, _, ok := sweeper.LastRun()
	assert.False(t, ok)

	sweeper.RunNow()

	res, at, ok := sweeper.LastRun()
	require.True(t, ok)
	assert.Equal(t, 1, res.Checked)
	assert.False(t, at.IsZero())
}

func TestOverdueSweeper_FailureKeepsPreviousResult(t *testing.T) {
	fake := &countingSweeper{}
	sweeper := NewOverdueSweeper(fake, nil)
	sweeper.RunNow()

	fake.err = errors.New("db down")
	sweeper.RunNow()

	res, _, ok := sweeper.LastRun()
	require.True(t, ok)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestOverdueSweeper_StartAndStop(t *testing.T) {
	// GIVEN: A sweeper on a one-second schedule
	// WHEN: Started
	// THEN: It sweeps immediately, reports a next run, and stops cleanly

	fake := &countingSweeper{}
	sweeper := NewOverdueSweeper(fake, nil)
	sweeper.Schedule = "@every 1s"

	require.NoError(t, sweeper.Start())
	assert.Eventually(t, func() bool { return fake.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, sweeper.NextRunTime().IsZero())

	sweeper.Stop()
	assert.True(t, sweeper.NextRunTime().IsZero())
	sweeper.Stop()
}

func TestOverdueSweeper_StopWaitsForInitialRun(t *testing.T) {
	// GIVEN: A sweeper on an hourly schedule
	// WHEN: Stopped right after Start
	// THEN: The initial sweep has finished by the time Stop returns and no
	//       sweep starts afterwards

	for i := 0; i < 20; i++ {
		fake := &countingSweeper{}
		sweeper := NewOverdueSweeper(fake, nil)

		require.NoError(t, sweeper.Start())
		sweeper.Stop()

		assert.Equal(t, int32(1), fake.calls.Load())
		_, _, ok := sweeper.LastRun()
		assert.True(t, ok)
	}
}

func TestOverdueSweeper_InvalidScheduleAndDisabled(t *testing.T) {
	sweeper := NewOverdueSweeper(&countingSweeper{}, nil)
	sweeper.Schedule = "every now and then"
	assert.Error(t, sweeper.Start())

	disabled := NewOverdueSweeper(&countingSweeper{}, nil)
	disabled.Enabled = false
	require.NoError(t, disabled.Start())
	assert.True(t, disabled.NextRunTime().IsZero())
}

func TestGetLastSweep_WithSweeper(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	h := NewHandler(api.svc, nil)
	h.Sweeper = NewOverdueSweeper(api.svc, nil)
	router := NewRouter(h, RouterOptions{})
	api.router = router

	rec := api.do(t, "GET", "/api/admin/sweep", nil, nil)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	h.Sweeper.RunNow()
	rec = api.do(t, "GET", "/api/admin/sweep", nil, nil)
	assert.Equal(t, "2024-01-13", decode[SweepDTO](t, rec).AsOf)
}
