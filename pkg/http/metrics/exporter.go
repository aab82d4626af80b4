// Package metrics exposes fleet gauges as OpenMetrics text for scrapers
// watching a running mission.
package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"fleet-coverage-scheduler/pkg/sched"
)

const contentType = "application/openmetrics-text; version=1.0.0; charset=utf-8"

var errNilWriter = errors.New("metrics: writer is nil")

// Exporter tracks fleet-level gauges and exposes them via HTTP. The driver
// publishes a snapshot between ticks; scrapes never reach the scheduler.
type Exporter struct {
	mu sync.RWMutex

	tick             float64
	timeMS           float64
	aliveUnits       float64
	deadUnits        float64
	unmetStreak      float64
	distinctOkTicks  float64
	multiRoleTicks   float64
	totalAssignments float64
	batteryMinPct    float64
	batteryMeanPct   float64
}

// NewExporter constructs an Exporter with zeroed gauges.
func NewExporter() *Exporter {
	return new(Exporter)
}

// Publish folds a scheduler snapshot into the gauge set.
func (e *Exporter) Publish(snapshot sched.Snapshot) {
	minPct, meanPct := batteryStats(snapshot.BatteryPct)

	aliveUnits := len(snapshot.BatteryPct) - len(snapshot.DeadUnits)
	if aliveUnits < 0 {
		aliveUnits = 0
	}

	e.mu.Lock()

	e.tick = float64(snapshot.Tick)
	e.timeMS = snapshot.TimeMS
	e.aliveUnits = float64(aliveUnits)
	e.deadUnits = float64(len(snapshot.DeadUnits))
	e.unmetStreak = float64(snapshot.UnmetStreak)
	e.distinctOkTicks = float64(snapshot.Counters.DistinctOkTicks)
	e.multiRoleTicks = float64(snapshot.Counters.MultiRoleTicks)
	e.totalAssignments = float64(snapshot.Counters.TotalAssignments)
	e.batteryMinPct = minPct
	e.batteryMeanPct = meanPct

	e.mu.Unlock()
}

func batteryStats(battery map[string]float64) (minPct, meanPct float64) {
	if len(battery) == 0 {
		return 0, 0
	}

	first := true
	sum := 0.0

	for _, pct := range battery {
		sum += pct

		if first || pct < minPct {
			minPct = pct
			first = false
		}
	}

	return minPct, sum / float64(len(battery))
}

// ServeHTTP implements http.Handler for the metrics exporter.
func (e *Exporter) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	data, err := e.Render()
	if err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", contentType)
	_, _ = writer.Write(data)
}

// Render returns the current gauge set encoded as OpenMetrics text.
func (e *Exporter) Render() ([]byte, error) {
	var buffer bytes.Buffer

	_, err := e.WriteTo(&buffer)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// WriteTo writes the current gauge set to the provided writer.
func (e *Exporter) WriteTo(dst io.Writer) (int64, error) {
	if dst == nil {
		return 0, errNilWriter
	}

	snapshot := e.snapshot()

	lines := []string{
		"# HELP fleet_tick Last completed scheduler tick.\n",
		"# TYPE fleet_tick gauge\n",
		fmt.Sprintf("fleet_tick %.0f\n", snapshot.tick),
		"# HELP fleet_time_ms Logical mission time in milliseconds.\n",
		"# TYPE fleet_time_ms gauge\n",
		fmt.Sprintf("fleet_time_ms %.3f\n", snapshot.timeMS),
		"# HELP fleet_alive_units Units not battery-dead; liveness is not considered.\n",
		"# TYPE fleet_alive_units gauge\n",
		fmt.Sprintf("fleet_alive_units %.0f\n", snapshot.aliveUnits),
		"# HELP fleet_dead_units Units permanently dead on battery.\n",
		"# TYPE fleet_dead_units gauge\n",
		fmt.Sprintf("fleet_dead_units %.0f\n", snapshot.deadUnits),
		"# HELP fleet_unmet_streak Consecutive ticks with an unmet coverage requirement.\n",
		"# TYPE fleet_unmet_streak gauge\n",
		fmt.Sprintf("fleet_unmet_streak %.0f\n", snapshot.unmetStreak),
		"# HELP fleet_distinct_ok_ticks Ticks that met the distinctness target.\n",
		"# TYPE fleet_distinct_ok_ticks counter\n",
		fmt.Sprintf("fleet_distinct_ok_ticks %.0f\n", snapshot.distinctOkTicks),
		"# HELP fleet_multi_role_ticks Ticks with at least one multi-role unit.\n",
		"# TYPE fleet_multi_role_ticks counter\n",
		fmt.Sprintf("fleet_multi_role_ticks %.0f\n", snapshot.multiRoleTicks),
		"# HELP fleet_assignments_total Role assignments made since mission start.\n",
		"# TYPE fleet_assignments_total counter\n",
		fmt.Sprintf("fleet_assignments_total %.0f\n", snapshot.totalAssignments),
		"# HELP fleet_battery_min_pct Lowest battery percentage across the fleet.\n",
		"# TYPE fleet_battery_min_pct gauge\n",
		fmt.Sprintf("fleet_battery_min_pct %.3f\n", snapshot.batteryMinPct),
		"# HELP fleet_battery_mean_pct Mean battery percentage across the fleet.\n",
		"# TYPE fleet_battery_mean_pct gauge\n",
		fmt.Sprintf("fleet_battery_mean_pct %.3f\n", snapshot.batteryMeanPct),
		"# EOF\n",
	}

	var total int64

	for _, line := range lines {
		n, err := io.WriteString(dst, line)

		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write metrics: %w", err)
		}
	}

	return total, nil
}

type exporterSnapshot struct {
	tick             float64
	timeMS           float64
	aliveUnits       float64
	deadUnits        float64
	unmetStreak      float64
	distinctOkTicks  float64
	multiRoleTicks   float64
	totalAssignments float64
	batteryMinPct    float64
	batteryMeanPct   float64
}

func (e *Exporter) snapshot() exporterSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return exporterSnapshot{
		tick:             e.tick,
		timeMS:           e.timeMS,
		aliveUnits:       e.aliveUnits,
		deadUnits:        e.deadUnits,
		unmetStreak:      e.unmetStreak,
		distinctOkTicks:  e.distinctOkTicks,
		multiRoleTicks:   e.multiRoleTicks,
		totalAssignments: e.totalAssignments,
		batteryMinPct:    e.batteryMinPct,
		batteryMeanPct:   e.batteryMeanPct,
	}
}
