package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	metrics "fleet-coverage-scheduler/pkg/http/metrics"
	"fleet-coverage-scheduler/pkg/sched"
)

const openMetricsContentType = "application/openmetrics-text; version=1.0.0; charset=utf-8"

func TestExporterRenderProducesOpenMetrics(t *testing.T) {
	t.Parallel()

	exporter := metrics.NewExporter()
	exporter.Publish(sched.Snapshot{
		Tick:   120,
		TimeMS: 120.0,
		BatteryPct: map[string]float64{
			"u1": 50.0,
			"u2": 100.0,
			"u3": 0.0,
		},
		DeadUnits:   []string{"u3"},
		UnmetStreak: 3,
		Counters: sched.Summary{
			DistinctOkTicks:  100,
			MultiRoleTicks:   7,
			TotalAssignments: 240,
		},
	})

	body, err := exporter.Render()
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}

	got := string(body)

	expectations := []string{
		"fleet_tick 120",
		"fleet_time_ms 120.000",
		"fleet_alive_units 2",
		"fleet_dead_units 1",
		"fleet_unmet_streak 3",
		"fleet_distinct_ok_ticks 100",
		"fleet_multi_role_ticks 7",
		"fleet_assignments_total 240",
		"fleet_battery_min_pct 0.000",
		"fleet_battery_mean_pct 50.000",
		"# EOF",
	}

	for _, line := range expectations {
		if !strings.Contains(got, line) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", line, got)
		}
	}
}

func TestExporterServeHTTPSetsContentType(t *testing.T) {
	t.Parallel()

	exporter := metrics.NewExporter()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	exporter.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", recorder.Code)
	}

	if got := recorder.Header().Get("Content-Type"); got != openMetricsContentType {
		t.Fatalf("unexpected content type %q", got)
	}

	if !strings.Contains(recorder.Body.String(), "fleet_tick 0") {
		t.Fatalf("expected zeroed gauges before the first publish, got:\n%s", recorder.Body.String())
	}
}
