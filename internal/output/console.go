// Package output renders load test progress and results.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shroomp/shroomload/internal/engine"
	"github.com/shroomp/shroomload/internal/executor"
	"github.com/shroomp/shroomload/internal/metrics"
)

const (
	clearLine = "\r\033[2K"
	ruleWidth = 56
	ruleChar  = "━"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64
	Elapsed  time.Duration
	Total    time.Duration

	ActiveVUs int
	TargetVUs int

	Iterations    int64
	TotalRequests int64
	RPS           float64
	Errors        int64
	ErrorRate     float64
	LatencyP95    time.Duration

	Phase       string
	Stage       int // 1-indexed
	TotalStages int
}

// StatsSource is what a running test exposes for progress display.
// *engine.Engine implements it.
type StatsSource interface {
	Progress() float64
	Stats() *executor.Stats
	Metrics() *metrics.Engine
}

// StatsFrom builds LiveStats from a running test.
func StatsFrom(src StatsSource) *LiveStats {
	st := src.Stats()
	snap := src.Metrics().GetSnapshot()

	return &LiveStats{
		Progress:      src.Progress(),
		Elapsed:       st.Elapsed,
		Total:         st.TotalDuration,
		ActiveVUs:     st.ActiveVUs,
		TargetVUs:     st.TargetVUs,
		Iterations:    snap.Iterations,
		TotalRequests: snap.TotalRequests,
		RPS:           snap.RPS,
		Errors:        snap.FailedRequests,
		ErrorRate:     snap.ErrorRate,
		LatencyP95:    snap.Latency.P95,
		Phase:         string(snap.CurrentPhase),
		Stage:         st.CurrentStage + 1,
		TotalStages:   st.TotalStages,
	}
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	NoColor     bool
	Quiet       bool
	ForceColors bool
	ForceTTY    bool
}

// Console writes progress lines and the final summary.
type Console struct {
	writer io.Writer
	scheme *ColorScheme
	isTTY  bool
	quiet  bool

	mu          sync.Mutex
	pendingLine bool
}

// NewConsole creates a console writer. Colors are used only on terminals
// that support them, unless forced or disabled.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		scheme: scheme,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY reports whether the console writes to a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// Header describes a run about to start.
type Header struct {
	Name     string
	BaseURL  string
	Stages   int
	MaxVUs   int
	Duration time.Duration
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(h Header) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	rule := s.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", s.Title.Sprint(h.Name), s.Highlight.Sprint("Running")))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Target:    %s", s.Value.Sprint(h.BaseURL)))
	c.writeln(fmt.Sprintf("Stages:    %d (max %d VUs, %s)", h.Stages, h.MaxVUs, formatDuration(h.Duration)))
	c.writeln("")
}

// Update prints one progress line. On a terminal the line is rewritten in
// place; otherwise each update is appended.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.progressLine(stats)
	if c.isTTY {
		c.write(clearLine + line)
		c.pendingLine = true
		return
	}
	c.writeln(line)
}

func (c *Console) progressLine(stats *LiveStats) string {
	s := c.scheme
	return fmt.Sprintf("[%s] %s %3.0f%% | stage %d/%d | VUs: %d/%d | iters: %s | reqs: %s (%.1f/s) | errors: %s | p95: %s",
		formatDuration(stats.Elapsed),
		s.Highlight.Sprint(stats.Phase),
		stats.Progress*100,
		stats.Stage, stats.TotalStages,
		stats.ActiveVUs, stats.TargetVUs,
		formatNumber(stats.Iterations),
		formatNumber(stats.TotalRequests), stats.RPS,
		s.rateColor(stats.ErrorRate).Sprintf("%d (%s)", stats.Errors, formatPercent(stats.ErrorRate)),
		formatLatency(stats.LatencyP95),
	)
}

// Watch prints an update from src every interval until ctx is done.
func (c *Console) Watch(ctx context.Context, src StatsSource, interval time.Duration) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(StatsFrom(src))
		}
	}
}

// PrintSummary prints the final report. In quiet mode only PASSED or
// FAILED is printed.
func (c *Console) PrintSummary(result *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	if c.pendingLine {
		c.writeln("")
		c.pendingLine = false
	}

	if c.quiet {
		if result.Passed {
			c.writeln(s.Success.Sprint("PASSED"))
		} else {
			c.writeln(s.Error.Sprint("FAILED"))
		}
		return
	}

	status := s.Success.Sprint("Completed ✓")
	switch {
	case !result.Passed:
		status = s.Error.Sprint("Failed ✗")
	case result.Interrupted:
		status = s.Warn.Sprint("Interrupted")
	}

	rule := s.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", s.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln("")

	c.writeln(fmt.Sprintf("Run:           %s", s.Dim.Sprint(result.ID)))
	c.writeln(fmt.Sprintf("Duration:      %s", s.Value.Sprint(formatDuration(result.Duration))))

	snap := result.Metrics
	if snap != nil {
		c.writeln(fmt.Sprintf("Iterations:    %s", s.Value.Sprint(formatNumber(snap.Iterations))))
		c.writeln(fmt.Sprintf("Requests:      %s (%.1f/s)", s.Value.Sprint(formatNumber(snap.TotalRequests)), snap.RPS))
		c.writeln(fmt.Sprintf("Failed:        %s", s.rateColor(snap.ErrorRate).Sprint(formatPercent(snap.ErrorRate))))
		c.writeln(fmt.Sprintf("Received:      %s", formatBytes(snap.TotalBytes)))
		if errs, ok := snap.Rates[metrics.MetricErrors]; ok && errs.Total() > 0 {
			c.writeln(fmt.Sprintf("Errors:        %s", s.rateColor(errs.Rate).Sprint(formatPercent(errs.Rate))))
		}
	}
	c.writeln("")

	c.printChecks(result)
	c.printLatency(result)
	c.printThresholds(result)
}

func (c *Console) printChecks(result *engine.Result) {
	if len(result.Checks) == 0 {
		return
	}
	s := c.scheme

	width := 0
	for _, cs := range result.Checks {
		if len(cs.Name) > width {
			width = len(cs.Name)
		}
	}

	c.writeln(s.Label.Sprint("Checks:"))
	for _, cs := range result.Checks {
		total := cs.Passes + cs.Fails
		line := fmt.Sprintf("  %s %s %s / %s",
			s.Icon(cs.Fails == 0),
			padRight(cs.Name, width),
			formatNumber(cs.Passes), formatNumber(total))
		if cs.Fails > 0 && total > 0 {
			line += s.Dim.Sprintf(" (%s passed)", formatPercent(float64(cs.Passes)/float64(total)))
		}
		c.writeln(line)
	}

	if result.Metrics != nil {
		if rs, ok := result.Metrics.Rates[metrics.MetricChecks]; ok && rs.Total() > 0 {
			c.writeln(fmt.Sprintf("  %s %s  %s %s  %s %s",
				padRight("checks", width+2),
				formatPercent(rs.Rate),
				s.PassIcon(), formatNumber(rs.Passes),
				s.FailIcon(), formatNumber(rs.Fails)))
		}
	}
	c.writeln("")
}

func (c *Console) printLatency(result *engine.Result) {
	s := c.scheme
	if result.Metrics != nil && result.Metrics.Latency.Count > 0 {
		lat := result.Metrics.Latency
		c.writeln(s.Label.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:  %s", formatLatency(lat.Min)))
		c.writeln(fmt.Sprintf("  Avg:  %s", formatLatency(lat.Mean)))
		c.writeln(fmt.Sprintf("  P50:  %s", formatLatency(lat.P50)))
		c.writeln(fmt.Sprintf("  P90:  %s", formatLatency(lat.P90)))
		c.writeln(fmt.Sprintf("  P95:  %s", formatLatency(lat.P95)))
		c.writeln(fmt.Sprintf("  P99:  %s", formatLatency(lat.P99)))
		c.writeln(fmt.Sprintf("  Max:  %s", formatLatency(lat.Max)))
		c.writeln("")
	}

	if len(result.Requests) == 0 {
		return
	}
	c.writeln(s.Label.Sprint("Requests:"))
	for _, rs := range result.Requests {
		c.writeln(fmt.Sprintf("  %s count=%-8s avg=%-10s p95=%-10s max=%s",
			padRight(rs.Name, 8),
			formatNumber(rs.Count),
			formatLatency(rs.Latency.Mean),
			formatLatency(rs.Latency.P95),
			formatLatency(rs.Latency.Max)))
	}
	c.writeln("")
}

func (c *Console) printThresholds(result *engine.Result) {
	if len(result.Thresholds) == 0 {
		return
	}
	s := c.scheme

	c.writeln(s.Label.Sprint("Thresholds:"))
	for _, t := range result.Thresholds {
		line := fmt.Sprintf("  %s %s %s", s.Icon(t.Passed), t.Metric, t.Expression)
		if t.Value != "" {
			line += fmt.Sprintf(" (actual: %s)", t.Value)
		}
		if !t.Passed && t.Message != "" && t.Value == "" {
			line += " " + s.Error.Sprint(t.Message)
		}
		c.writeln(line)
	}
	c.writeln("")
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}
