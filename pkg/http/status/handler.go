// Package status renders mission progress as JSON for operators polling a
// running driver.
package status

import (
	"encoding/json"
	"net/http"
	"sync"

	"fleet-coverage-scheduler/pkg/sched"
)

// Snapshot is the JSON shape served by the handler.
type Snapshot struct {
	Tick             int                 `json:"tick"`
	TimeMS           float64             `json:"timeMs"`
	Assignments      map[string][]string `json:"assignments"`
	DeadUnits        []string            `json:"deadUnits"`
	UnmetStreak      int                 `json:"unmetStreak"`
	DistinctOkTicks  int                 `json:"distinctOkTicks"`
	MultiRoleTicks   int                 `json:"multiRoleTicks"`
	TotalAssignments int                 `json:"totalAssignments"`
}

// Handler serves the most recently published scheduler snapshot. The
// driver publishes between ticks; the handler never calls back into the
// scheduler.
type Handler struct {
	mu   sync.RWMutex
	last *Snapshot
}

// NewHandler constructs an empty Handler awaiting its first snapshot.
func NewHandler() *Handler {
	return new(Handler)
}

// Publish stores the snapshot served to subsequent requests.
func (h *Handler) Publish(snapshot sched.Snapshot) {
	view := Snapshot{
		Tick:             snapshot.Tick,
		TimeMS:           snapshot.TimeMS,
		Assignments:      snapshot.Assignments,
		DeadUnits:        snapshot.DeadUnits,
		UnmetStreak:      snapshot.UnmetStreak,
		DistinctOkTicks:  snapshot.Counters.DistinctOkTicks,
		MultiRoleTicks:   snapshot.Counters.MultiRoleTicks,
		TotalAssignments: snapshot.Counters.TotalAssignments,
	}

	h.mu.Lock()
	h.last = &view
	h.mu.Unlock()
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	if h == nil {
		http.Error(writer, "scheduler unavailable", http.StatusServiceUnavailable)

		return
	}

	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()

	if last == nil {
		http.Error(writer, "no ticks completed", http.StatusServiceUnavailable)

		return
	}

	payload, err := json.Marshal(last)
	if err != nil {
		http.Error(writer, "marshal status", http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(payload)
}
