package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shroomp/shroomload/internal/executor"
	"github.com/shroomp/shroomload/internal/metrics"
)

// countingIteration returns an IterationFunc that counts calls and pauses
// for pause between iterations.
func countingIteration(count *atomic.Int64, work, pause time.Duration) executor.IterationFunc {
	return func(ctx context.Context, vu *executor.VirtualUser) time.Duration {
		count.Add(1)
		if work > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(work):
			}
		}
		return pause
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  executor.Config
		field   string
		wantErr bool
	}{
		{"valid", executor.Config{Stages: []executor.Stage{{Duration: time.Second, Target: 1}}}, "", false},
		{"no stages", executor.Config{}, "stages", true},
		{"zero duration", executor.Config{Stages: []executor.Stage{{Duration: 0, Target: 1}}}, "stages[0].duration", true},
		{"negative target", executor.Config{Stages: []executor.Stage{{Duration: time.Second, Target: 1}, {Duration: time.Second, Target: -1}}}, "stages[1].target", true},
		{"negative graceful stop", executor.Config{Stages: []executor.Stage{{Duration: time.Second}}, GracefulStop: -time.Second}, "gracefulStop", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verr *executor.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestNewRampingVUs_InvalidConfig(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	_, err := executor.NewRampingVUs(executor.Config{}, nil, engine)
	if err == nil {
		t.Fatal("NewRampingVUs() with no stages should fail")
	}
}

func TestRampingVUs_Run_Basic(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var calls atomic.Int64
	e, err := executor.NewRampingVUs(executor.Config{
		Stages: []executor.Stage{
			{Duration: 300 * time.Millisecond, Target: 3},
			{Duration: 300 * time.Millisecond, Target: 3},
		},
		GracefulStop: time.Second,
	}, countingIteration(&calls, 0, 10*time.Millisecond), engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	if p := e.GetProgress(); p != 0 {
		t.Errorf("GetProgress() before run = %v, want 0", p)
	}

	start := time.Now()
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 550*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("Run() took %v, want ~600ms", elapsed)
	}
	if calls.Load() == 0 {
		t.Fatal("no iterations were executed")
	}

	stats := e.GetStats()
	if stats.Iterations != calls.Load() {
		t.Errorf("Stats.Iterations = %d, want %d", stats.Iterations, calls.Load())
	}
	if got := engine.GetSnapshot().Iterations; got != calls.Load() {
		t.Errorf("metrics iterations = %d, want %d", got, calls.Load())
	}
	if stats.TotalStages != 2 {
		t.Errorf("TotalStages = %d, want 2", stats.TotalStages)
	}
	if e.GetActiveVUs() != 0 {
		t.Errorf("GetActiveVUs() after run = %d, want 0", e.GetActiveVUs())
	}
	if e.GetProgress() != 1.0 {
		t.Errorf("GetProgress() after run = %v, want 1", e.GetProgress())
	}
	if engine.GetPhase() != metrics.PhaseDone {
		t.Errorf("phase = %v, want %v", engine.GetPhase(), metrics.PhaseDone)
	}
}

func TestRampingVUs_RampShape(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var calls atomic.Int64
	e, err := executor.NewRampingVUs(executor.Config{
		Stages: []executor.Stage{
			{Duration: 400 * time.Millisecond, Target: 4},
			{Duration: 400 * time.Millisecond, Target: 4},
			{Duration: 400 * time.Millisecond, Target: 0},
		},
	}, countingIteration(&calls, 0, 20*time.Millisecond), engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	var maxVUs atomic.Int32
	var sampledSteady atomic.Int32
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				stats := e.GetStats()
				if int32(stats.ActiveVUs) > maxVUs.Load() {
					maxVUs.Store(int32(stats.ActiveVUs))
				}
				if stats.CurrentStage == 1 && stats.TargetVUs == 4 {
					sampledSteady.Store(1)
				}
			}
		}
	}()

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(done)

	if maxVUs.Load() > 4 {
		t.Errorf("max active VUs = %d, want <= 4", maxVUs.Load())
	}
	if maxVUs.Load() < 3 {
		t.Errorf("max active VUs = %d, want close to 4", maxVUs.Load())
	}
	if sampledSteady.Load() != 1 {
		t.Error("never observed the steady stage at target 4")
	}

	var phases []metrics.Phase
	for _, pc := range engine.GetPhaseHistory() {
		phases = append(phases, pc.Phase)
	}
	want := []metrics.Phase{metrics.PhaseRampUp, metrics.PhaseSteady, metrics.PhaseRampDown, metrics.PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase[%d] = %v, want %v", i, phases[i], want[i])
		}
	}
}

func TestRampingVUs_GracefulStopLetsIterationFinish(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var finished, interrupted atomic.Int64
	iterate := func(ctx context.Context, vu *executor.VirtualUser) time.Duration {
		select {
		case <-ctx.Done():
			interrupted.Add(1)
		case <-time.After(250 * time.Millisecond):
			finished.Add(1)
		}
		return time.Hour
	}

	e, err := executor.NewRampingVUs(executor.Config{
		Stages:       []executor.Stage{{Duration: 300 * time.Millisecond, Target: 2}},
		GracefulStop: 2 * time.Second,
	}, iterate, engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if interrupted.Load() != 0 {
		t.Errorf("interrupted = %d, want 0", interrupted.Load())
	}
	if finished.Load() == 0 {
		t.Error("no iteration finished during graceful stop")
	}
	// The hour-long pause must be cut short by the stop request.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v, pause was not interrupted", elapsed)
	}
}

func TestRampingVUs_GracefulStopExpires(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var interrupted atomic.Int64
	iterate := func(ctx context.Context, vu *executor.VirtualUser) time.Duration {
		select {
		case <-ctx.Done():
			interrupted.Add(1)
		case <-time.After(10 * time.Second):
		}
		return 0
	}

	e, err := executor.NewRampingVUs(executor.Config{
		Stages:       []executor.Stage{{Duration: 300 * time.Millisecond, Target: 1}},
		GracefulStop: 100 * time.Millisecond,
	}, iterate, engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v, graceful stop did not expire", elapsed)
	}
	if interrupted.Load() != 1 {
		t.Errorf("interrupted = %d, want 1", interrupted.Load())
	}
	if got := e.GetStats().Iterations; got != 0 {
		t.Errorf("interrupted iterations counted: %d", got)
	}
}

func TestRampingVUs_ContextCancellation(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var calls atomic.Int64
	e, err := executor.NewRampingVUs(executor.Config{
		Stages: []executor.Stage{{Duration: 10 * time.Second, Target: 2}},
	}, countingIteration(&calls, 5*time.Millisecond, 0), engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = e.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}
}

func TestRampingVUs_Stop(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var calls atomic.Int64
	e, err := executor.NewRampingVUs(executor.Config{
		Stages: []executor.Stage{{Duration: 10 * time.Second, Target: 2}},
	}, countingIteration(&calls, 0, 10*time.Millisecond), engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	// Stop before Run is a no-op.
	e.Stop()

	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = e.Run(context.Background())
	}()

	time.Sleep(300 * time.Millisecond)
	e.Stop()
	wg.Wait()

	if runErr != nil {
		t.Errorf("Run() error = %v, want nil", runErr)
	}
	if e.GetStats().Elapsed > 2*time.Second {
		t.Errorf("Stop() did not end the run early")
	}
}

func TestRampingVUs_AlreadyRunning(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	e, err := executor.NewRampingVUs(executor.Config{
		Stages: []executor.Stage{{Duration: 300 * time.Millisecond, Target: 1}},
	}, func(ctx context.Context, vu *executor.VirtualUser) time.Duration { return 10 * time.Millisecond }, engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	go func() { _ = e.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	if err := e.Run(context.Background()); !errors.Is(err, executor.ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
	time.Sleep(500 * time.Millisecond)
}

func TestRampingVUs_DistinctVUIDs(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var mu sync.Mutex
	seen := map[int]bool{}

	e, err := executor.NewRampingVUs(executor.Config{
		Stages: []executor.Stage{{Duration: 300 * time.Millisecond, Target: 5}},
	}, func(ctx context.Context, vu *executor.VirtualUser) time.Duration {
		mu.Lock()
		seen[vu.ID] = true
		mu.Unlock()
		return 10 * time.Millisecond
	}, engine)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || len(seen) > 5 {
		t.Errorf("distinct VU IDs = %d, want 2..5", len(seen))
	}
}
