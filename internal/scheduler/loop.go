// Package scheduler turns schedule entries into speak commands at their
// trigger minute.
//
// A single Loop goroutine owns the schedule snapshot and the TriggerTracker.
// Request handlers never touch either; they may only ask for a reload, which
// is delivered over a one-slot channel and picked up on the next tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"emobridge/internal/schedule"
	"emobridge/internal/types"
)

// LoopMetrics is the subset of the metrics collector the loop reports to.
type LoopMetrics interface {
	RecordPromoted(n int)
	RecordSkippedRows(n int)
}

type nopLoopMetrics struct{}

func (nopLoopMetrics) RecordPromoted(int)    {}
func (nopLoopMetrics) RecordSkippedRows(int) {}

// LoopConfig holds the dependencies of a Loop.
type LoopConfig struct {
	Store    schedule.Store
	Sink     types.CommandSink
	Clock    types.Clock
	Location *time.Location

	TickInterval    time.Duration
	RefreshInterval time.Duration

	Metrics LoopMetrics
	Logger  *slog.Logger
}

// Status is a point-in-time view of the loop for health and admin endpoints.
type Status struct {
	Entries     int       `json:"entries"`
	LastTick    time.Time `json:"last_tick"`
	LastRefresh time.Time `json:"last_refresh"`
	LastError   string    `json:"last_error,omitempty"`
	Promoted    int64     `json:"promoted_total"`
}

// Loop runs the refresh and evaluate phases on every tick.
type Loop struct {
	store           schedule.Store
	sink            types.CommandSink
	clock           types.Clock
	loc             *time.Location
	tickInterval    time.Duration
	refreshInterval time.Duration
	metrics         LoopMetrics
	logger          *slog.Logger

	reload chan struct{}

	// Owned by the Run goroutine.
	tracker     *TriggerTracker
	entries     []types.ScheduleEntry
	lastRefresh time.Time
	loaded      bool

	statusMu sync.Mutex
	status   Status
}

// NewLoop validates cfg and builds a Loop. Zero intervals default to 1s tick
// and 10s refresh.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("scheduler: sink is required")
	}

	l := &Loop{
		store:           cfg.Store,
		sink:            cfg.Sink,
		clock:           cfg.Clock,
		loc:             cfg.Location,
		tickInterval:    cfg.TickInterval,
		refreshInterval: cfg.RefreshInterval,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		reload:          make(chan struct{}, 1),
		tracker:         NewTriggerTracker(),
	}
	if l.clock == nil {
		l.clock = types.RealClock{}
	}
	if l.loc == nil {
		l.loc = time.Local
	}
	if l.tickInterval <= 0 {
		l.tickInterval = time.Second
	}
	if l.refreshInterval <= 0 {
		l.refreshInterval = 10 * time.Second
	}
	if l.metrics == nil {
		l.metrics = nopLoopMetrics{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l, nil
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
// It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("scheduler loop started",
		"tick_interval", l.tickInterval.String(),
		"refresh_interval", l.refreshInterval.String(),
		"timezone", l.loc.String(),
	)
	defer l.logger.Info("scheduler loop stopped")

	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	l.safeTick(ctx, false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.safeTick(ctx, false)
		case <-l.reload:
			l.safeTick(ctx, true)
		}
	}
}

// RequestReload asks the loop to re-read the schedule on its next tick.
// It never blocks; requests made while one is pending are coalesced.
func (l *Loop) RequestReload() {
	select {
	case l.reload <- struct{}{}:
	default:
	}
}

// Status returns a copy of the latest loop status.
func (l *Loop) Status() Status {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.status
}

// safeTick runs one tick and contains any panic so the next tick still runs.
func (l *Loop) safeTick(ctx context.Context, forceRefresh bool) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("scheduler tick panicked",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			l.setError(fmt.Sprintf("panic: %v", rec))
		}
	}()
	l.tick(ctx, forceRefresh)
}

func (l *Loop) tick(ctx context.Context, forceRefresh bool) {
	now := l.clock.Now().In(l.loc)

	if forceRefresh || !l.loaded || now.Sub(l.lastRefresh) >= l.refreshInterval {
		l.refresh(ctx, now)
	}

	promoted := l.evaluate(now)

	l.statusMu.Lock()
	l.status.LastTick = now
	l.status.Promoted += int64(promoted)
	l.statusMu.Unlock()
}

// refresh replaces the snapshot. On failure the previous snapshot is kept and
// the next attempt waits for the regular refresh interval.
func (l *Loop) refresh(ctx context.Context, now time.Time) {
	l.lastRefresh = now
	l.loaded = true

	res, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Error("schedule refresh failed, keeping previous snapshot",
			"entries", len(l.entries),
			"error", err,
		)
		l.setError(err.Error())
		return
	}

	if res.Skipped > 0 {
		l.metrics.RecordSkippedRows(res.Skipped)
	}
	if res.Bootstrapped {
		l.logger.Info("schedule source was missing and has been bootstrapped", "entries", len(res.Entries))
	}
	l.entries = res.Entries
	l.logger.Debug("schedule refreshed", "entries", len(l.entries), "skipped", res.Skipped)

	l.statusMu.Lock()
	l.status.Entries = len(l.entries)
	l.status.LastRefresh = now
	l.status.LastError = ""
	l.statusMu.Unlock()
}

// evaluate promotes every due entry to a speak command. Due commands from one
// tick are enqueued together in snapshot order.
func (l *Loop) evaluate(now time.Time) int {
	l.tracker.ResetIfNewMinute(now)

	var due []types.Command
	for _, entry := range l.entries {
		if !l.tracker.IsDue(entry, now) {
			continue
		}
		l.tracker.MarkFired(entry)
		due = append(due, types.NewSpeakCommand(entry.Text))
		l.logger.Info("schedule entry promoted",
			"trigger_at", entry.TriggerAt.Format(types.ScheduleTimeLayout),
			"text", entry.Text,
		)
	}
	if len(due) == 0 {
		return 0
	}

	l.sink.EnqueueAll(due...)
	l.metrics.RecordPromoted(len(due))
	return len(due)
}

func (l *Loop) setError(msg string) {
	l.statusMu.Lock()
	l.status.LastError = msg
	l.statusMu.Unlock()
}
