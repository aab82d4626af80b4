// Package sink persists the scheduler's observability streams: four
// append-only CSV files and a run summary JSON inside one logs directory.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"fleet-coverage-scheduler/pkg/sched"
)

const (
	timelineFile   = "timeline.csv"
	batteryFile    = "battery_samples.csv"
	assignmentFile = "assignment_samples.csv"
	eventsFile     = "events.csv"
	summaryFile    = "summary.json"
	lockFile       = ".lock"

	breakerConsecutiveFailures = 5
)

var ErrLogsDirBusy = errors.New("sink: logs directory is locked by another run")

// Recorder implements sched.Recorder over a logs directory. Writes are
// best-effort: failures are counted by a circuit breaker and, once it
// opens, further emissions drop silently instead of disturbing the run.
type Recorder struct {
	dir     string
	domains []string
	log     *zap.Logger

	lock *flock.Flock

	timelineF   *os.File
	batteryF    *os.File
	assignmentF *os.File
	eventsF     *os.File

	timelineW   *csv.Writer
	batteryW    *csv.Writer
	assignmentW *csv.Writer
	eventsW     *csv.Writer

	breaker *gobreaker.CircuitBreaker

	closed bool
}

// New creates the logs directory, takes an exclusive advisory lock on it
// and opens the four streams with their headers written. domains fixes the
// column order of the assignment sample stream.
func New(dir string, domains []string, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("create logs dir %q: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock logs dir %q: %w", dir, err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %q", ErrLogsDirBusy, dir)
	}

	r := &Recorder{
		dir:     dir,
		domains: append([]string(nil), domains...),
		log:     logger,
		lock:    lock,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "sink",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerConsecutiveFailures
			},
		}),
	}

	err = r.openStreams()
	if err != nil {
		_ = lock.Unlock()

		return nil, err
	}

	return r, nil
}

func (r *Recorder) openStreams() error {
	var err error

	r.timelineF, r.timelineW, err = r.openCSV(timelineFile,
		[]string{"time_ticks", "time_ms", "domain", "active_devices", "reason"})
	if err != nil {
		return err
	}

	r.batteryF, r.batteryW, err = r.openCSV(batteryFile,
		[]string{"sample_tick", "time_ms", "unit", "battery_pct", "state"})
	if err != nil {
		return err
	}

	assignmentHeader := []string{"sample_tick", "time_ms", "desired_distinct", "actual_distinct"}
	for _, d := range r.domains {
		assignmentHeader = append(assignmentHeader, "domain_"+d+"_devices")
	}

	r.assignmentF, r.assignmentW, err = r.openCSV(assignmentFile, assignmentHeader)
	if err != nil {
		return err
	}

	r.eventsF, r.eventsW, err = r.openCSV(eventsFile,
		[]string{"time_ticks", "time_ms", "kind", "detail"})

	return err
}

func (r *Recorder) openCSV(name string, header []string) (*os.File, *csv.Writer, error) {
	path := filepath.Join(r.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %q: %w", path, err)
	}

	writer := csv.NewWriter(file)

	err = writer.Write(header)
	if err != nil {
		_ = file.Close()

		return nil, nil, fmt.Errorf("write header %q: %w", path, err)
	}

	return file, writer, nil
}

// write funnels every row through the breaker so a dying disk degrades the
// run to decisions-only instead of failing ticks.
func (r *Recorder) write(w *csv.Writer, row []string) {
	if r.closed {
		return
	}

	_, err := r.breaker.Execute(func() (interface{}, error) {
		err := w.Write(row)
		if err != nil {
			return nil, err
		}

		return nil, w.Error()
	})
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
		r.log.Warn("sink write failed", zap.Error(err))
	}
}

// Timeline implements sched.Recorder.
func (r *Recorder) Timeline(tick int, timeMS float64, domain string, units []string, reason string) {
	r.write(r.timelineW, []string{
		strconv.Itoa(tick),
		fmtMS(timeMS),
		domain,
		joinUnits(units),
		reason,
	})
}

// BatterySample implements sched.Recorder.
func (r *Recorder) BatterySample(tick int, timeMS float64, unit string, batteryPct float64, state string) {
	r.write(r.batteryW, []string{
		strconv.Itoa(tick),
		fmtMS(timeMS),
		unit,
		strconv.FormatFloat(batteryPct, 'f', 3, 64),
		state,
	})
}

// AssignmentSample implements sched.Recorder.
func (r *Recorder) AssignmentSample(tick int, timeMS float64, desiredDistinct, actualDistinct int, perDomain map[string][]string) {
	row := []string{
		strconv.Itoa(tick),
		fmtMS(timeMS),
		strconv.Itoa(desiredDistinct),
		strconv.Itoa(actualDistinct),
	}

	for _, d := range r.domains {
		row = append(row, joinUnits(perDomain[d]))
	}

	r.write(r.assignmentW, row)
}

// Event implements sched.Recorder. Terminal kinds flush immediately so the
// explanatory record is on disk before any raise reaches the caller.
func (r *Recorder) Event(tick int, timeMS float64, kind, detail string) {
	r.write(r.eventsW, []string{
		strconv.Itoa(tick),
		fmtMS(timeMS),
		kind,
		detail,
	})

	if kind == sched.EventMissionFailure || kind == sched.EventBatteryDead {
		r.eventsW.Flush()
	}
}

// Summary implements sched.Recorder. The summary file is rewritten whole
// on every call, so an on-demand snapshot replaces the previous one.
func (r *Recorder) Summary(summary sched.Summary) {
	if r.closed {
		return
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		r.log.Warn("encode summary", zap.Error(err))

		return
	}

	err = os.WriteFile(filepath.Join(r.dir, summaryFile), append(data, '\n'), 0o644)
	if err != nil {
		r.log.Warn("write summary", zap.Error(err))
	}
}

// Close flushes and closes every stream and releases the directory lock.
// Late emissions after Close are dropped by the closed guard.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true

	var errs error

	for _, w := range []*csv.Writer{r.timelineW, r.batteryW, r.assignmentW, r.eventsW} {
		w.Flush()
		errs = multierr.Append(errs, w.Error())
	}

	for _, f := range []*os.File{r.timelineF, r.batteryF, r.assignmentF, r.eventsF} {
		errs = multierr.Append(errs, f.Close())
	}

	errs = multierr.Append(errs, r.lock.Unlock())

	if errs != nil {
		return fmt.Errorf("close sinks: %w", errs)
	}

	return nil
}

func fmtMS(timeMS float64) string {
	return strconv.FormatFloat(timeMS, 'f', 3, 64)
}

func joinUnits(units []string) string {
	return strings.Join(units, ";")
}
