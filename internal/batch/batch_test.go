package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

func isrcs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("USRC1760%04d", i)
	}
	return out
}

func echo(ctx context.Context, isrc string) (*models.Analysis, error) {
	return &models.Analysis{Record: &models.CanonicalTrackRecord{ISRC: isrc}}, nil
}

func TestRunPreservesOrder(t *testing.T) {
	t.Parallel()

	input := isrcs(25)
	var active, peak atomic.Int32
	analyze := func(ctx context.Context, isrc string) (*models.Analysis, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// higher last digits finish first
		time.Sleep(time.Duration(10-int(isrc[len(isrc)-1]-'0')) * time.Millisecond)
		active.Add(-1)
		return echo(ctx, isrc)
	}

	report := New(WithWorkers(3)).Run(context.Background(), input, analyze)

	require.Len(t, report.Items, len(input))
	for i, item := range report.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, input[i], item.ISRC)
		assert.Equal(t, ItemDone, item.Status)
		assert.Equal(t, input[i], item.Analysis.Record.ISRC)
	}
	assert.Equal(t, 25, report.Completed)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.NotEmpty(t, report.ID)
}

func TestRunReportsItemFailures(t *testing.T) {
	t.Parallel()

	input := []string{"USRC17607839", "bad", "GBAYE0601498"}
	analyze := func(ctx context.Context, isrc string) (*models.Analysis, error) {
		if isrc == "bad" {
			return nil, apperrors.Wrap(apperrors.ErrInvalidFormat, "isrc", "validate", isrc, nil)
		}
		return echo(ctx, isrc)
	}

	report := New().Run(context.Background(), input, analyze)

	assert.Equal(t, ItemDone, report.Items[0].Status)
	assert.Equal(t, ItemFailed, report.Items[1].Status)
	assert.ErrorIs(t, report.Items[1].Err, apperrors.ErrInvalidFormat)
	assert.Contains(t, report.Items[1].Error, "invalid isrc format")
	assert.Equal(t, ItemDone, report.Items[2].Status)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Failed)
}

func TestCancellationStopsDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	analyze := func(itemCtx context.Context, isrc string) (*models.Analysis, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		time.Sleep(10 * time.Millisecond)
		// dispatched items keep running after the caller cancels
		if err := itemCtx.Err(); err != nil {
			return nil, err
		}
		return echo(itemCtx, isrc)
	}

	report := New(WithWorkers(1)).Run(ctx, isrcs(10), analyze)

	require.Len(t, report.Items, 10)
	assert.Equal(t, ItemDone, report.Items[0].Status)
	assert.Equal(t, ItemDone, report.Items[1].Status)
	for _, item := range report.Items[2:] {
		assert.Equal(t, ItemNotAttempted, item.Status)
		assert.True(t, errors.Is(item.Err, apperrors.ErrNotAttempted))
	}
	assert.Equal(t, 8, report.NotAttempted)
}

func TestDeadlineStopsDispatch(t *testing.T) {
	t.Parallel()

	analyze := func(ctx context.Context, isrc string) (*models.Analysis, error) {
		time.Sleep(40 * time.Millisecond)
		return echo(ctx, isrc)
	}

	report := New(WithWorkers(2), WithDeadline(60*time.Millisecond)).Run(context.Background(), isrcs(10), analyze)

	assert.Positive(t, report.Completed)
	assert.Positive(t, report.NotAttempted)
	assert.Equal(t, 10, report.Completed+report.NotAttempted)
	// dispatch is in order, so everything after the first gap is undispatched
	seenGap := false
	for _, item := range report.Items {
		if item.Status == ItemNotAttempted {
			seenGap = true
			continue
		}
		assert.False(t, seenGap, "item %d ran after an undispatched one", item.Index)
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []int
	release := make(chan struct{})
	analyze := func(ctx context.Context, isrc string) (*models.Analysis, error) {
		<-release
		return echo(ctx, isrc)
	}

	run := New(WithWorkers(2), WithProgress(func(p Progress) {
		mu.Lock()
		seen = append(seen, p.Completed)
		mu.Unlock()
		assert.Equal(t, 5, p.Total)
	})).Start(context.Background(), isrcs(5), analyze)

	assert.Equal(t, Progress{RunID: run.ID(), Completed: 0, Total: 5}, run.Progress())
	close(release)
	report := run.Wait()

	assert.Equal(t, 5, run.Progress().Completed)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, run.ID(), report.ID)
}

func TestEmptyBatch(t *testing.T) {
	t.Parallel()

	report := New().Run(context.Background(), nil, echo)
	assert.Empty(t, report.Items)
	assert.Zero(t, report.Completed)
}
