package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shroomp/shroomload/internal/metrics"
)

// controllerInterval is how often the VU count is re-targeted.
const controllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// The target is linearly interpolated between stage boundaries and
// re-evaluated every 100ms, so ramps are smooth rather than step-wise.
//
// Example stages:
//
//	- duration: 30s
//	  target: 10     # Ramp from 0 to 10 VUs over 30s
//	- duration: 2m
//	  target: 10     # Stay at 10 VUs for 2 minutes
//	- duration: 30s
//	  target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config  Config
	iterate IterationFunc
	metrics *metrics.Engine
	logger  *zap.Logger

	// State
	startTime    atomic.Pointer[time.Time]
	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	iterations   atomic.Int64
	currentStage atomic.Int32
	running      atomic.Bool
	finished     atomic.Bool
	nextVUID     atomic.Int32

	// Cancellation
	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	// VU tracking
	vus   []*VirtualUser
	vusMu sync.Mutex
}

// Option configures a RampingVUs executor.
type Option func(*RampingVUs)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(e *RampingVUs) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewRampingVUs creates a ramping executor calling iterate for every
// iteration of every VU and recording into metricsEngine.
func NewRampingVUs(config Config, iterate IterationFunc, metricsEngine *metrics.Engine, opts ...Option) (*RampingVUs, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &RampingVUs{
		config:  config,
		iterate: iterate,
		metrics: metricsEngine,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes all stages and blocks until every VU has stopped or the
// graceful stop period expired.
//
// When the stages end, VUs are asked to stop and may finish their current
// iteration within GracefulStop. After that, in-flight iterations are
// cancelled through their context. Cancelling ctx aborts everything at once.
func (e *RampingVUs) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	start := time.Now()
	e.startTime.Store(&start)

	// VU goroutines outlive the stage schedule by up to GracefulStop.
	vuCtx, cancelVUs := context.WithCancel(ctx)
	defer cancelVUs()

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	e.logger.Info("ramping VUs",
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", e.config.TotalDuration()),
	)

	e.adjustVUs(vuCtx, e.calculateTargetVUs())
	e.updatePhase()

	controllerDone := make(chan struct{})
	go func() {
		e.vuController(runCtx, vuCtx)
		close(controllerDone)
	}()

	<-runCtx.Done()
	<-controllerDone

	e.gracefulShutdown(cancelVUs)

	e.metrics.SetActiveVUs(0)
	e.metrics.SetPhase(metrics.PhaseDone)
	e.finished.Store(true)

	e.logger.Info("ramping VUs finished",
		zap.Int64("iterations", e.iterations.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// vuController adjusts VU count according to stages.
func (e *RampingVUs) vuController(runCtx, vuCtx context.Context) {
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			target := e.calculateTargetVUs()
			e.adjustVUs(vuCtx, target)
			e.updatePhase()
		}
	}
}

func (e *RampingVUs) elapsed() time.Duration {
	start := e.startTime.Load()
	if start == nil {
		return 0
	}
	return time.Since(*start)
}

// calculateTargetVUs calculates the target VU count based on elapsed time.
func (e *RampingVUs) calculateTargetVUs() int {
	return e.targetAt(e.elapsed())
}

// targetAt linearly interpolates the VU target at elapsed.
func (e *RampingVUs) targetAt(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			if progress > 1 {
				progress = 1
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	e.currentStage.Store(int32(len(e.config.Stages) - 1))
	return e.config.Stages[len(e.config.Stages)-1].Target
}

// adjustVUs spawns or stops VUs to match target.
func (e *RampingVUs) adjustVUs(ctx context.Context, target int) {
	e.targetVUs.Store(int32(target))

	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	current := len(e.vus)

	switch {
	case target > current:
		for i := current; i < target; i++ {
			vu := NewVirtualUser(int(e.nextVUID.Add(1)))
			e.vus = append(e.vus, vu)
			e.wg.Add(1)
			go e.runVU(ctx, vu)
		}
		e.logger.Debug("spawned VUs", zap.Int("from", current), zap.Int("to", target))

	case target < current:
		// Newest VUs stop first.
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
		e.logger.Debug("stopping VUs", zap.Int("from", current), zap.Int("to", target))
	}

	e.metrics.SetActiveVUs(int(e.activeVUs.Load()))
}

// updatePhase updates the metrics phase based on current stage.
func (e *RampingVUs) updatePhase() {
	stageIdx := int(e.currentStage.Load())
	if stageIdx >= len(e.config.Stages) {
		return
	}

	stage := e.config.Stages[stageIdx]
	prevTarget := 0
	if stageIdx > 0 {
		prevTarget = e.config.Stages[stageIdx-1].Target
	}

	switch {
	case stage.Target > prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampUp)
	case stage.Target < prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampDown)
	default:
		e.metrics.SetPhase(metrics.PhaseSteady)
	}
}

// runVU runs a single VU until stopped.
func (e *RampingVUs) runVU(ctx context.Context, vu *VirtualUser) {
	defer e.wg.Done()
	defer vu.MarkStopped()

	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	for {
		if ctx.Err() != nil || !vu.beginIteration() {
			return
		}

		pause := e.iterate(ctx, vu)
		vu.endIteration()

		// Iterations cut off by cancellation are not counted.
		if ctx.Err() != nil {
			return
		}
		e.iterations.Add(1)
		e.metrics.RecordIteration()

		if !vu.Pause(ctx, pause) {
			return
		}
	}
}

// gracefulShutdown asks all VUs to stop and waits for their current
// iteration, cancelling them once the graceful period is over.
func (e *RampingVUs) gracefulShutdown(cancelVUs context.CancelFunc) {
	e.vusMu.Lock()
	for _, vu := range e.vus {
		vu.RequestStop()
	}
	e.vus = nil
	e.vusMu.Unlock()

	graceful := e.config.GracefulStop
	if graceful == 0 {
		graceful = DefaultGracefulStop
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		e.logger.Warn("graceful stop expired, interrupting iterations",
			zap.Duration("gracefulStop", graceful),
			zap.Int32("running", e.activeVUs.Load()),
		)
	}

	cancelVUs()
	<-done
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if e.startTime.Load() == nil {
		return 0.0
	}

	progress := float64(e.elapsed()) / float64(e.config.TotalDuration())
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	var startTime time.Time
	if start := e.startTime.Load(); start != nil {
		startTime = *start
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	return &Stats{
		StartTime:        startTime,
		CurrentTime:      time.Now(),
		Elapsed:          e.elapsed(),
		TotalDuration:    e.config.TotalDuration(),
		ActiveVUs:        int(e.activeVUs.Load()),
		TargetVUs:        int(e.targetVUs.Load()),
		Iterations:       e.iterations.Load(),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
	}
}

// Stop ends the stage schedule early. Run still applies the graceful stop.
func (e *RampingVUs) Stop() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
}
