package health

import (
	"context"
	"fmt"
	"runtime"
)

// ProcessCheckerConfig configures the process resource checker.
type ProcessCheckerConfig struct {
	// WarningThreshold is the heap usage ratio that triggers degraded status.
	// Value should be between 0 and 1. Default: 0.8 (80%)
	WarningThreshold float64

	// CriticalThreshold is the heap usage ratio that triggers unhealthy status.
	// Value should be between 0 and 1. Default: 0.95 (95%)
	CriticalThreshold float64

	// MaxAlloc is the maximum expected heap allocation in bytes.
	// Default: 0 (use the runtime's reported system memory)
	MaxAlloc uint64

	// MaxGoroutines triggers degraded status when exceeded. Stalled
	// transport calls show up here first.
	// Default: 0 (no goroutine check)
	MaxGoroutines int
}

// ProcessChecker reports on the process hosting the client: heap
// pressure and goroutine count.
type ProcessChecker struct {
	config ProcessCheckerConfig
}

// NewProcessChecker creates a new process resource checker.
func NewProcessChecker(config ProcessCheckerConfig) *ProcessChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold >= 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = config.WarningThreshold
	}

	return &ProcessChecker{config: config}
}

// Name returns the name of this checker.
func (p *ProcessChecker) Name() string {
	return "process"
}

// Check performs the process resource check.
func (p *ProcessChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	goroutines := runtime.NumGoroutine()
	details := map[string]any{
		"alloc_bytes": stats.Alloc,
		"sys_bytes":   stats.Sys,
		"heap_in_use": stats.HeapInuse,
		"num_gc":      stats.NumGC,
		"goroutines":  goroutines,
	}

	if p.config.MaxGoroutines > 0 && goroutines > p.config.MaxGoroutines {
		return Degraded(
			fmt.Sprintf("goroutine count high: %d", goroutines),
		).WithDetails(details)
	}

	maxAlloc := p.config.MaxAlloc
	if maxAlloc == 0 {
		maxAlloc = stats.Sys
	}
	if maxAlloc == 0 {
		return Healthy("memory stats unavailable").WithDetails(details)
	}

	usage := float64(stats.Alloc) / float64(maxAlloc)
	details["usage_percent"] = usage * 100

	if usage >= p.config.CriticalThreshold {
		return Unhealthy(
			fmt.Sprintf("memory usage critical: %.1f%%", usage*100),
			ErrCheckFailed,
		).WithDetails(details)
	}
	if usage >= p.config.WarningThreshold {
		return Degraded(
			fmt.Sprintf("memory usage high: %.1f%%", usage*100),
		).WithDetails(details)
	}

	return Healthy(
		fmt.Sprintf("memory usage normal: %.1f%%", usage*100),
	).WithDetails(details)
}
