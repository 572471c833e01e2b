package twap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/precision"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubmitter struct {
	mu       sync.Mutex
	calls    int
	failIdx  map[int]bool
	nthCalls []types.OrderBatch
}

func (f *fakeSubmitter) Submit(ctx context.Context, batch types.OrderBatch) (upstream.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	f.nthCalls = append(f.nthCalls, batch)
	if f.failIdx[idx] {
		return upstream.OrderResult{}, errors.New("submit failed")
	}
	return upstream.OrderResult{Statuses: []upstream.OrderStatus{{Status: "ok"}}}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMidProvider struct {
	mid decimal.Decimal
	ok  bool
}

func (f fakeMidProvider) Mid(symbol types.Symbol) (decimal.Decimal, bool) {
	return f.mid, f.ok
}

func testBounds() Bounds {
	return Bounds{MinIntervals: 2, MaxIntervals: 100, MinDurationMinutes: 1, MaxDurationMinutes: 1440}
}

func TestCreateRunsFirstSubOrderSynchronously(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{failIdx: map[int]bool{}}
	sched := New(submitter, precision.NewTable(), fakeMidProvider{mid: decimal.NewFromInt(100000), ok: true}, testBounds(), testLogger())

	task, err := sched.Create(context.Background(), CreateParams{
		Symbol:          "BTC-PERP",
		Side:            types.Buy,
		TotalSize:       decimal.NewFromFloat(0.001),
		Intervals:       2,
		DurationMinutes: 1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if submitter.callCount() != 1 {
		t.Errorf("expected 1 synchronous submit, got %d", submitter.callCount())
	}
	if task.CompletedOrders != 1 {
		t.Errorf("CompletedOrders = %d, want 1", task.CompletedOrders)
	}
	if task.Status != types.TwapActive {
		t.Errorf("status = %s, want active", task.Status)
	}
}

func TestCreateFirstOrderFailureAbortsCreation(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{failIdx: map[int]bool{0: true}}
	sched := New(submitter, precision.NewTable(), fakeMidProvider{mid: decimal.NewFromInt(100000), ok: true}, testBounds(), testLogger())

	_, err := sched.Create(context.Background(), CreateParams{
		Symbol:          "BTC-PERP",
		Side:            types.Buy,
		TotalSize:       decimal.NewFromFloat(0.001),
		Intervals:       2,
		DurationMinutes: 1,
	})
	if err == nil {
		t.Fatal("expected TwapFirstOrderFailed")
	}
	gwErr, ok := err.(*gatewayerr.Error)
	if !ok || gwErr.Kind != gatewayerr.KindTwapFirstFailed {
		t.Errorf("expected TwapFirstOrderFailed, got %v", err)
	}
	if len(sched.List().Tasks) != 0 {
		t.Error("a task that failed at creation must not be stored")
	}
}

func TestCreateRejectsIntervalsOutOfRange(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{failIdx: map[int]bool{}}
	sched := New(submitter, precision.NewTable(), fakeMidProvider{}, testBounds(), testLogger())

	_, err := sched.Create(context.Background(), CreateParams{
		Symbol: "BTC-PERP", Side: types.Buy, TotalSize: decimal.NewFromFloat(1), Intervals: 1, DurationMinutes: 5,
	})
	if err == nil {
		t.Fatal("expected TwapIntervalsOutOfRange")
	}
	gwErr, ok := err.(*gatewayerr.Error)
	if !ok || gwErr.Kind != gatewayerr.KindTwapIntervals {
		t.Errorf("expected TwapIntervalsOutOfRange, got %v", err)
	}
}

func TestScheduleCompletesAfterAllSubOrders(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{failIdx: map[int]bool{}}
	sched := New(submitter, precision.NewTable(), fakeMidProvider{mid: decimal.NewFromInt(100000), ok: true}, testBounds(), testLogger())

	task, err := sched.Create(context.Background(), CreateParams{
		Symbol:          "BTC-PERP",
		Side:            types.Buy,
		TotalSize:       decimal.NewFromFloat(0.002),
		Intervals:       2,
		DurationMinutes: 1440, // long enough that the real timer never fires during the test
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Drive the remaining sub-order directly rather than waiting on the
	// scheduled timer, so the test doesn't depend on wall-clock duration.
	sched.mu.RLock()
	entry := sched.tasks[task.ID]
	sched.mu.RUnlock()
	sched.fireSubOrder(entry, 1)

	got, err := sched.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.TwapCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedOrders != 2 {
		t.Errorf("CompletedOrders = %d, want 2", got.CompletedOrders)
	}
}

func TestCancelStopsScheduledSubOrders(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{failIdx: map[int]bool{}}
	sched := New(submitter, precision.NewTable(), fakeMidProvider{mid: decimal.NewFromInt(100000), ok: true}, testBounds(), testLogger())

	task, err := sched.Create(context.Background(), CreateParams{
		Symbol:          "BTC-PERP",
		Side:            types.Buy,
		TotalSize:       decimal.NewFromFloat(0.002),
		Intervals:       2,
		DurationMinutes: 10,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sched.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := sched.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.TwapCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.CancelledAt == nil {
		t.Error("expected CancelledAt to be set")
	}

	// Fire the remaining sub-order's timer callback directly: a cancelled
	// task must neither submit nor record anything further.
	sched.mu.RLock()
	entry := sched.tasks[task.ID]
	sched.mu.RUnlock()
	sched.fireSubOrder(entry, 1)
	if submitter.callCount() != 1 {
		t.Errorf("submit calls after cancel = %d, want 1", submitter.callCount())
	}
	if after, _ := sched.Get(task.ID); len(after.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1", len(after.Results))
	}

	if err := sched.Cancel(task.ID); err == nil {
		t.Error("expected cancelling an already-cancelled task to fail")
	}
}

func TestGetUnknownTaskReturnsNotFound(t *testing.T) {
	t.Parallel()

	sched := New(&fakeSubmitter{}, precision.NewTable(), fakeMidProvider{}, testBounds(), testLogger())
	_, err := sched.Get(999)
	if err == nil {
		t.Fatal("expected TwapNotFound")
	}
	gwErr, ok := err.(*gatewayerr.Error)
	if !ok || gwErr.Kind != gatewayerr.KindTwapNotFound {
		t.Errorf("expected TwapNotFound, got %v", err)
	}
}

func TestListCountsByStatus(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{failIdx: map[int]bool{}}
	sched := New(submitter, precision.NewTable(), fakeMidProvider{mid: decimal.NewFromInt(100000), ok: true}, testBounds(), testLogger())

	task, err := sched.Create(context.Background(), CreateParams{
		Symbol: "BTC-PERP", Side: types.Buy, TotalSize: decimal.NewFromFloat(0.002), Intervals: 2, DurationMinutes: 10,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sched.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	list := sched.List()
	if list.CancelledCount != 1 {
		t.Errorf("CancelledCount = %d, want 1", list.CancelledCount)
	}
	if len(list.Tasks) != 1 {
		t.Errorf("len(Tasks) = %d, want 1", len(list.Tasks))
	}
}
