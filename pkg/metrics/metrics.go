// Package metrics keeps process gauges in an embedded time-series store.
package metrics

import (
	"errors"
	"path"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

// Gauge names sampled by the application.
const (
	SystemCPUUse  = "system_cpuuse"
	SystemMemUse  = "system_memuse"
	ProcessCPUUse = "wabot_cpuuse"
	ProcessMemUse = "wabot_memuse"
	BotConnected  = "wabot_connected"
)

var ErrNotInitialized = errors.New("metrics: storage not initialized")

var (
	storage tstorage.Storage
	mu      sync.RWMutex
)

// Point is one sample of a gauge.
type Point struct {
	Timestamp int64 `json:"timestamp"`
	Value     int64 `json:"value"`
}

// InitMetrics opens the store under <workdir>/data/metrics. Samples older than
// 7 days are dropped.
func InitMetrics(workdir string) error {
	mu.Lock()
	defer mu.Unlock()
	if storage != nil {
		return nil
	}
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(path.Join(workdir, "data", "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithPartitionDuration(time.Hour),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	storage = s
	return nil
}

// InitMemoryMetrics opens an in-memory store (tests, or no workdir).
func InitMemoryMetrics() error {
	mu.Lock()
	defer mu.Unlock()
	if storage != nil {
		return nil
	}
	s, err := tstorage.NewStorage(tstorage.WithTimestampPrecision(tstorage.Seconds))
	if err != nil {
		return err
	}
	storage = s
	return nil
}

// SetGauge records value for name at the current time. It is a no-op before InitMetrics.
func SetGauge(name string, value int64) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: float64(value)},
	}})
}

// Series returns the samples of name within [start, end).
func Series(name string, start, end time.Time) ([]Point, error) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return nil, ErrNotInitialized
	}
	points, err := storage.Select(name, nil, start.Unix(), end.Unix())
	if errors.Is(err, tstorage.ErrNoDataPoints) {
		return []Point{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(points))
	for _, p := range points {
		out = append(out, Point{Timestamp: p.Timestamp, Value: int64(p.Value)})
	}
	return out, nil
}

// Close flushes and closes the store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
