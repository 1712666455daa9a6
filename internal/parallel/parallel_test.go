package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversEveryIndex(t *testing.T) {
	tests := []struct {
		name string
		n    int
		cfg  Config
	}{
		{"serial", 100, Serial()},
		{"parallel", 100, Config{Enabled: true, Workers: 4, MinGrain: 1}},
		{"below grain", 5, Config{Enabled: true, Workers: 4, MinGrain: 8}},
		{"more workers than items", 3, Config{Enabled: true, Workers: 16, MinGrain: 1}},
		{"default", 1000, DefaultConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]int32, tt.n)
			For(tt.n, func(i int) {
				atomic.AddInt32(&hits[i], 1)
			}, tt.cfg)

			for i, h := range hits {
				if h != 1 {
					t.Errorf("index %d executed %d times, want 1", i, h)
				}
			}
		})
	}
}

func TestForZeroItems(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, DefaultConfig())
	if called {
		t.Error("f must not be called for n = 0")
	}
}

func TestForWaitsForCompletion(t *testing.T) {
	var sum int64
	For(10000, func(i int) {
		atomic.AddInt64(&sum, int64(i))
	}, Config{Enabled: true, Workers: 8, MinGrain: 1})

	want := int64(10000) * 9999 / 2
	if sum != want {
		t.Errorf("sum = %d, want %d", sum, want)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Workers < 1 {
		t.Errorf("Workers = %d, want >= 1", cfg.Workers)
	}
	if cfg.MinGrain < 1 {
		t.Errorf("MinGrain = %d, want >= 1", cfg.MinGrain)
	}
}
