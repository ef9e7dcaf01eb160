package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestGaugeRoundTrip(t *testing.T) {
	if err := InitMemoryMetrics(); err != nil {
		t.Fatal(err)
	}
	defer Close()

	SetGauge(ProcessMemUse, 42)
	SetGauge(ProcessMemUse, 43)

	points, err := Series(ProcessMemUse, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(points) == 0 || points[len(points)-1].Value != 43 {
		t.Errorf("points = %+v", points)
	}

	empty, err := Series("missing", time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil || len(empty) != 0 {
		t.Errorf("missing series = %+v, %v", empty, err)
	}
}

func TestSeriesBeforeInit(t *testing.T) {
	_ = Close()
	SetGauge(ProcessMemUse, 1)
	if _, err := Series(ProcessMemUse, time.Now().Add(-time.Minute), time.Now()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v", err)
	}
}
