package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-sla/internal/scanner"
)

type fakeRunner struct {
	calls []time.Time
	err   error
}

func (r *fakeRunner) Run(_ context.Context, now time.Time) (scanner.Report, error) {
	r.calls = append(r.calls, now)
	return scanner.Report{ResolutionBreached: []string{"t-1"}}, r.err
}

type fakeLocker struct {
	token    string
	err      error
	unlocked []string
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (string, error) {
	return l.token, l.err
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.unlocked = append(l.unlocked, key+"="+token)
	return nil
}

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, runner ScanRunner, locker Locker) *ScanScheduler {
	t.Helper()
	s, err := NewScanScheduler(ScanSchedulerDependencies{
		Runner:   runner,
		Locker:   locker,
		Schedule: "@every 10m",
		Clock:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s
}

func TestRunOnceHoldsAndReleasesLock(t *testing.T) {
	runner := &fakeRunner{}
	locker := &fakeLocker{token: "abc"}
	s := newTestScheduler(t, runner, locker)

	report, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, ran)
	assert.Equal(t, []string{"t-1"}, report.ResolutionBreached)
	assert.Equal(t, []time.Time{fixedNow}, runner.calls)
	assert.Equal(t, []string{scanLockKey + "=abc"}, locker.unlocked)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, &fakeLocker{})

	_, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, ran)
	assert.Empty(t, runner.calls)
}

func TestRunOnceScansWhenLockBackendFails(t *testing.T) {
	runner := &fakeRunner{}
	locker := &fakeLocker{err: errors.New("connection refused")}
	s := newTestScheduler(t, runner, locker)

	_, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, ran)
	assert.Len(t, runner.calls, 1)
	assert.Empty(t, locker.unlocked)
}

func TestRunOnceWithoutLocker(t *testing.T) {
	runner := &fakeRunner{err: errors.New("db gone")}
	s := newTestScheduler(t, runner, nil)

	_, ran, err := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.EqualError(t, err, "db gone")
}

func TestNewScanSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewScanScheduler(ScanSchedulerDependencies{Runner: &fakeRunner{}, Schedule: "every ten minutes"})
	assert.Error(t, err)
}
