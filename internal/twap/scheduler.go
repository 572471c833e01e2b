// Package twap implements the TWAP Scheduler (component E): deterministic
// front-loaded size distribution, synchronous first-sub-order execution,
// and time.AfterFunc-driven remaining sub-orders. Grounded in shape (one
// goroutine-equivalent driver per entity, non-blocking event bookkeeping)
// on the teacher's internal/strategy/maker.go quoting loop and
// internal/engine/engine.go's select-driven main loop — never on either's
// market-making pricing logic, which has no analogue here.
package twap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/orderpipeline"
	"perp-gateway/internal/precision"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"
)

// Submitter is the subset of the Order Pipeline the scheduler depends on.
type Submitter interface {
	Submit(ctx context.Context, batch types.OrderBatch) (upstream.OrderResult, error)
}

// MidProvider is the subset of the Price Tape the scheduler depends on for
// sub-order precondition checks.
type MidProvider interface {
	Mid(symbol types.Symbol) (decimal.Decimal, bool)
}

// Bounds mirrors config.TwapConfig without creating an import on the config
// package.
type Bounds struct {
	MinIntervals       int
	MaxIntervals       int
	MinDurationMinutes int
	MaxDurationMinutes int
}

// CreateParams is the input to Create.
type CreateParams struct {
	Symbol          types.Symbol
	Side            types.Side
	TotalSize       decimal.Decimal
	Intervals       int
	DurationMinutes int
	ReduceOnly      bool
}

// taskEntry pairs a TwapTask with the mutex serializing its mutations. Each
// sub-order has its own timer, armed at creation and fired at a distinct
// time; list()/get() readers, timer callbacks, and a callback whose
// submission outlasts the interval can all race without this.
type taskEntry struct {
	mu   sync.Mutex
	task types.TwapTask
}

// Scheduler is the TWAP Scheduler component. The zero value is not usable;
// construct with New.
type Scheduler struct {
	mu     sync.RWMutex
	tasks  map[int64]*taskEntry
	nextID atomic.Int64

	submitter Submitter
	table     *precision.Table
	prices    MidProvider
	bounds    Bounds
	logger    *slog.Logger
}

// New builds a Scheduler.
func New(submitter Submitter, table *precision.Table, prices MidProvider, bounds Bounds, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:     make(map[int64]*taskEntry),
		submitter: submitter,
		table:     table,
		prices:    prices,
		bounds:    bounds,
		logger:    logger.With("component", "twap-scheduler"),
	}
}

// Create validates params, distributes sub-order sizes, synchronously
// executes sub-order 0, and — if it succeeds — stores the task and
// schedules the remaining sub-orders. Returns TwapFirstOrderFailed if
// sub-order 0 fails; no task is stored in that case.
func (s *Scheduler) Create(ctx context.Context, params CreateParams) (*types.TwapTask, error) {
	if params.Intervals < s.bounds.MinIntervals || params.Intervals > s.bounds.MaxIntervals {
		return nil, gatewayerr.Newf(gatewayerr.KindTwapIntervals, "intervals must be between %d and %d", s.bounds.MinIntervals, s.bounds.MaxIntervals)
	}
	if params.DurationMinutes < s.bounds.MinDurationMinutes || params.DurationMinutes > s.bounds.MaxDurationMinutes {
		return nil, gatewayerr.Newf(gatewayerr.KindTwapDuration, "duration must be between %d and %d minutes", s.bounds.MinDurationMinutes, s.bounds.MaxDurationMinutes)
	}

	spec := s.table.GetPrecision(params.Symbol)
	subOrderSizes, err := distributeSizes(params.TotalSize, params.Intervals, spec)
	if err != nil {
		return nil, err
	}

	id := s.nextID.Add(1)
	now := time.Now()
	task := types.TwapTask{
		ID:              id,
		Symbol:          params.Symbol,
		Side:            params.Side,
		TotalSize:       params.TotalSize,
		Intervals:       params.Intervals,
		DurationMinutes: params.DurationMinutes,
		ReduceOnly:      params.ReduceOnly,
		SubOrderSizes:   subOrderSizes,
		SizeIncrement:   spec.SizeTick(),
		SizePrecision:   spec.SzDecimals,
		MinOrderSize:    spec.MinOrderSize(),
		Status:          types.TwapActive,
		CreatedAt:       now,
	}

	entry := &taskEntry{task: task}

	result := s.runSubOrder(ctx, entry, 0)
	if !result.Ok {
		return nil, gatewayerr.Newf(gatewayerr.KindTwapFirstFailed, "first sub-order failed: %s", result.Error)
	}

	s.mu.Lock()
	s.tasks[id] = entry
	s.mu.Unlock()

	if params.Intervals == 1 {
		s.finalizeIfLast(entry, 0)
	} else {
		s.scheduleRemaining(entry)
	}

	snapshot := entry.snapshot()
	return &snapshot, nil
}

// scheduleRemaining fires one-shot timers for sub-orders 1..N-1, each
// checking task status at fire time before running.
func (s *Scheduler) scheduleRemaining(entry *taskEntry) {
	entry.mu.Lock()
	intervals := entry.task.Intervals
	durationMinutes := entry.task.DurationMinutes
	createdAt := entry.task.CreatedAt
	entry.mu.Unlock()

	intervalMs := float64(durationMinutes) * 60000 / float64(intervals)

	for i := 1; i < intervals; i++ {
		fireAt := createdAt.Add(time.Duration(float64(i)*intervalMs) * time.Millisecond)
		delay := time.Until(fireAt)
		if delay < 0 {
			delay = 0
		}
		idx := i
		time.AfterFunc(delay, func() {
			s.fireSubOrder(entry, idx)
		})
	}
}

// fireSubOrder is the timer callback for sub-order idx. It no-ops if the
// task is no longer active (cooperative cancellation).
func (s *Scheduler) fireSubOrder(entry *taskEntry, idx int) {
	entry.mu.Lock()
	active := entry.task.Status == types.TwapActive
	entry.mu.Unlock()
	if !active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.runSubOrder(ctx, entry, idx)
	s.finalizeIfLast(entry, idx)
}

// runSubOrder builds, validates, and submits sub-order idx, appending a
// Result and bumping the completed/failed counters. It returns the result
// it appended.
func (s *Scheduler) runSubOrder(ctx context.Context, entry *taskEntry, idx int) types.SubOrderResult {
	entry.mu.Lock()
	task := entry.task
	entry.mu.Unlock()

	size := task.SubOrderSizes[idx]
	result := types.SubOrderResult{Index: idx, ExecutedAt: time.Now(), Size: size}

	if size.LessThan(task.MinOrderSize) {
		result.Error = fmt.Sprintf("sub-order size %s is below the minimum order size %s", size, task.MinOrderSize)
	} else if mid, ok := s.prices.Mid(task.Symbol); ok && size.Mul(mid).LessThan(orderpipeline.MinNotionalUSD) {
		result.Error = fmt.Sprintf("sub-order notional falls below the $%s minimum", orderpipeline.MinNotionalUSD)
	} else {
		batch := types.NewOrderBatch([]types.Order{{
			Symbol:     task.Symbol,
			Side:       task.Side,
			Size:       size,
			ReduceOnly: task.ReduceOnly,
			OrderType:  types.NewLimitOrderType(types.Ioc),
		}})
		if _, err := s.submitter.Submit(ctx, batch); err != nil {
			result.Error = err.Error()
		} else {
			result.Ok = true
		}
	}

	entry.mu.Lock()
	entry.task.Results = append(entry.task.Results, result)
	if result.Ok {
		entry.task.CompletedOrders++
	} else {
		entry.task.FailedOrders++
	}
	entry.mu.Unlock()

	return result
}

// finalizeIfLast marks the task completed or failed once its final
// scheduled sub-order has run.
func (s *Scheduler) finalizeIfLast(entry *taskEntry, idx int) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if idx != entry.task.Intervals-1 {
		return
	}
	if entry.task.Status != types.TwapActive {
		return
	}
	now := time.Now()
	if entry.task.CompletedOrders >= 1 {
		entry.task.Status = types.TwapCompleted
	} else {
		entry.task.Status = types.TwapFailed
	}
	entry.task.CompletedAt = &now
}

// Get returns a snapshot of task id.
func (s *Scheduler) Get(id int64) (*types.TwapTask, error) {
	s.mu.RLock()
	entry, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, gatewayerr.Newf(gatewayerr.KindTwapNotFound, "no twap task with id %d", id)
	}
	snap := entry.snapshot()
	return &snap, nil
}

// ListResult is the response shape for List: all tasks plus counters.
type ListResult struct {
	Tasks             []types.TwapTask
	ActiveCount       int
	CompletedCount    int
	FailedCount       int
	CancelledCount    int
}

// List returns every task plus counts by status.
func (s *Scheduler) List() ListResult {
	s.mu.RLock()
	entries := make([]*taskEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := ListResult{Tasks: make([]types.TwapTask, 0, len(entries))}
	for _, e := range entries {
		task := e.snapshot()
		result.Tasks = append(result.Tasks, task)
		switch task.Status {
		case types.TwapActive:
			result.ActiveCount++
		case types.TwapCompleted:
			result.CompletedCount++
		case types.TwapFailed:
			result.FailedCount++
		case types.TwapCancelled:
			result.CancelledCount++
		}
	}
	return result
}

// Cancel marks an active task cancelled. Scheduled timers observe the new
// status and become no-ops; in-flight submissions are not interrupted.
func (s *Scheduler) Cancel(id int64) error {
	s.mu.RLock()
	entry, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return gatewayerr.Newf(gatewayerr.KindTwapNotFound, "no twap task with id %d", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.task.Status != types.TwapActive {
		return gatewayerr.Newf(gatewayerr.KindTwapNotActive, "task %d is not active (status=%s)", id, entry.task.Status)
	}
	now := time.Now()
	entry.task.Status = types.TwapCancelled
	entry.task.CancelledAt = &now
	return nil
}

func (e *taskEntry) snapshot() types.TwapTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	task := e.task
	task.SubOrderSizes = append([]decimal.Decimal(nil), e.task.SubOrderSizes...)
	task.Results = append([]types.SubOrderResult(nil), e.task.Results...)
	return task
}
