// Package parallel provides the goroutine fan-out used by the transducer
// batch scheduler and the within-example wavefront schedule.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled  bool // Whether parallel execution is enabled.
	Workers  int  // Number of worker goroutines to use.
	MinGrain int  // Minimum items per invocation to justify goroutine overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:  n > 1,
		Workers:  n,
		MinGrain: 8,
	}
}

// Serial returns a config that forces sequential execution.
func Serial() Config {
	return Config{Enabled: false, Workers: 1, MinGrain: 1}
}

// For executes f(i) for i in [0, n), concurrently when the config allows
// it and n is large enough to amortize the goroutine overhead.
// It returns only after every invocation has completed.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinGrain || cfg.Workers < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := (n + cfg.Workers - 1) / cfg.Workers
	if chunk < 1 {
		chunk = 1
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}
