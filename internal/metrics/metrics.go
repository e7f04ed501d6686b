package metrics

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "fileloop"

var (
	// Registry is a dedicated Prometheus registry for all fileloop metrics.
	Registry = prometheus.NewRegistry()

	// CyclesTotal counts completed create/edit/delete cycles.
	CyclesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of completed generator cycles",
		},
	)

	// StepTotal counts generator steps by step and outcome.
	StepTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_total",
			Help:      "Total number of generator steps",
		},
		[]string{"step", "outcome"}, // creating | editing | deleting ; ok | error
	)

	// StepDuration measures time spent inside a filesystem step.
	StepDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_ms",
			Help:      "Duration of generator filesystem steps in milliseconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"step"},
	)

	// MissingOnDeleteTotal counts deletions that found the target already gone.
	MissingOnDeleteTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_on_delete_total",
			Help:      "Deletions skipped because the target file no longer existed",
		},
	)

	// FilesPresent is 1 between a successful create and the following delete.
	FilesPresent = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_present",
			Help:      "Number of generator target files currently on disk",
		},
	)

	// JournalEntriesTotal counts recorder journal writes by operation.
	JournalEntriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_entries_total",
			Help:      "Number of recorder journal entries written",
		},
		[]string{"op"}, // create | write | remove
	)

	// JournalDeltaRatio is the stored payload size over content size for the
	// latest journal entry of each encoding.
	JournalDeltaRatio = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journal_delta_ratio",
			Help:      "Compressed payload size relative to file content for the last journal entry",
		},
		[]string{"encoding"}, // full | bsdiff
	)

	// AgentInfo exposes static information about the running binary.
	AgentInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_info",
			Help:      "Static information about the running binary",
		},
		[]string{"os", "arch", "version"},
	)

	// Up is a liveness gauge.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 while the generator is running",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetAgentInfo publishes a single info metric for the running binary.
func SetAgentInfo(version string) {
	if version == "" {
		version = "dev"
	}
	AgentInfo.WithLabelValues(runtime.GOOS, runtime.GOARCH, version).Set(1)
}

// ObserveStep records timing and outcome for one generator step.
func ObserveStep(start time.Time, step string, err error) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	StepDuration.WithLabelValues(step).Observe(elapsed)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StepTotal.WithLabelValues(step, outcome).Inc()

	if err != nil {
		return
	}
	switch step {
	case "creating":
		FilesPresent.Set(1)
	case "deleting":
		FilesPresent.Set(0)
	}
}

// ObserveMissing counts a delete that found nothing to remove.
func ObserveMissing() {
	MissingOnDeleteTotal.Inc()
}

// ObserveCycle counts a completed cycle.
func ObserveCycle() {
	CyclesTotal.Inc()
}

// ObserveJournal counts a journal entry.
func ObserveJournal(op string) {
	JournalEntriesTotal.WithLabelValues(op).Inc()
}

// SetDeltaRatio records how much of the content a journal payload occupies.
func SetDeltaRatio(encoding string, ratio float64) {
	JournalDeltaRatio.WithLabelValues(encoding).Set(ratio)
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Handler serves the registry in the OpenMetrics format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve starts the /metrics HTTP endpoint on the provided address and blocks
// until ctx is done.
func Serve(ctx context.Context, addr string, logger *logrus.Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logrus.WithField("component", "metrics")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithField("addr", addr).Info("prometheus endpoint listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
