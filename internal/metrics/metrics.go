package metrics

import (
	"sync"
	"time"

	"dca-trading-bot/internal/logger"
)

// Tracker accumulates loop timing and order counters for the Stats
// command. Safe for use from the loop goroutine and the chat surface.
type Tracker struct {
	mu           sync.Mutex
	minTime      time.Duration
	maxTime      time.Duration
	totalTime    time.Duration
	iterations   int64
	batchCount   int
	ordersPlaced int64
	startTime    time.Time
}

// Snapshot is a point-in-time copy of the tracker's counters.
type Snapshot struct {
	Iterations   int64
	Min          time.Duration
	Max          time.Duration
	Avg          time.Duration
	OrdersPlaced int64
	Uptime       time.Duration
}

func NewTracker() *Tracker {
	return &Tracker{
		minTime:   time.Duration(1<<63 - 1), // Max duration
		startTime: time.Now(),
	}
}

func (t *Tracker) TrackIteration(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.iterations++
	t.batchCount++
	t.totalTime += duration

	if duration < t.minTime {
		t.minTime = duration
	}
	if duration > t.maxTime {
		t.maxTime = duration
	}

	if t.batchCount >= 100 {
		avg := t.totalTime / time.Duration(t.iterations)
		logger.Info("Loop metrics (last 100)",
			"duration_ms", duration.Milliseconds(),
			"min_ms", t.minTime.Milliseconds(),
			"max_ms", t.maxTime.Milliseconds(),
			"avg_ms", avg.Milliseconds(),
			"total_iterations", t.iterations,
		)
		t.batchCount = 0
	}
}

func (t *Tracker) TrackOrder() {
	t.mu.Lock()
	t.ordersPlaced++
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Iterations:   t.iterations,
		Max:          t.maxTime,
		OrdersPlaced: t.ordersPlaced,
		Uptime:       time.Since(t.startTime),
	}
	if t.iterations > 0 {
		s.Min = t.minTime
		s.Avg = t.totalTime / time.Duration(t.iterations)
	}
	return s
}
