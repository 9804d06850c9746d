package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/service"
)

type fakeEngine struct {
	mu        sync.Mutex
	due       []string
	listErr   error
	failures  map[string]error
	processed []string
	asOf      time.Time
}

func (f *fakeEngine) ListDue(_ context.Context, asOf time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asOf = asOf
	return f.due, f.listErr
}

func (f *fakeEngine) ProcessCycle(_ context.Context, noteID string) (*service.CycleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, noteID)
	if err := f.failures[noteID]; err != nil {
		return nil, err
	}
	return &service.CycleResult{}, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	now := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	eng := &fakeEngine{
		due: []string{"a", "b", "c", "d"},
		failures: map[string]error{
			"b": fmt.Errorf("%w: insufficient funds", models.ErrSettlementFailed),
			"c": errors.New("database unavailable"),
		},
	}
	s := New(context.Background(), eng, quietLogger())
	s.WithClock(func() time.Time { return now })

	sum := s.RunOnce(context.Background())

	assert.Equal(t, Summary{Due: 4, Settled: 2, Failed: 2}, sum)
	assert.Equal(t, []string{"a", "b", "c", "d"}, eng.processed)
	assert.Equal(t, now, eng.asOf)
}

func TestRunOnce_ListError(t *testing.T) {
	eng := &fakeEngine{listErr: errors.New("boom")}
	s := New(context.Background(), eng, quietLogger())

	sum := s.RunOnce(context.Background())
	assert.Zero(t, sum)
	assert.Empty(t, eng.processed)
}

func TestRunOnce_StopsOnCancelledContext(t *testing.T) {
	eng := &fakeEngine{due: []string{"a", "b"}}
	s := New(context.Background(), eng, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := s.RunOnce(ctx)

	assert.Equal(t, 2, sum.Due)
	assert.Empty(t, eng.processed)
}

func TestStart_RejectsBadSpec(t *testing.T) {
	s := New(context.Background(), &fakeEngine{}, quietLogger())
	assert.Error(t, s.Start("not a cron spec"))
}

func TestStart_RunsJob(t *testing.T) {
	eng := &fakeEngine{due: []string{"a"}}
	s := New(context.Background(), eng, quietLogger())

	require.NoError(t, s.Start("* * * * * *"))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.processed) > 0
	}, 3*time.Second, 50*time.Millisecond)
}
