package telemetry

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// RunMetricsWrite groups telemetry events by stage into
// metrics/run-metrics.json's attempts_total/retries_total/
// failures_total/timeouts_total/duration_s aggregates, and renders the
// same counters to metrics/run-metrics.prom through a private Prometheus
// registry. It short-circuits (returns the previous metrics unchanged)
// when the log's last_seq matches what was last aggregated.
func RunMetricsWrite(runRoot string, m *schema.Manifest) (*schema.RunMetrics, *errs.Error) {
	metricsPath, we := store.WithinRoot(runRoot, filepath.Join("metrics", "run-metrics.json"))
	if we != nil {
		return nil, we
	}

	idx, e := readOrDeriveIndex(runRoot)
	if e != nil {
		return nil, e
	}

	if store.Exists(metricsPath) {
		var previous schema.RunMetrics
		if re := store.ReadJSON(metricsPath, &previous); re == nil && previous.LastSeq == idx.LastSeq {
			return &previous, nil
		}
	}

	lines, e := store.ReadLines(logPath(runRoot))
	if e != nil {
		return nil, e
	}

	stages := map[string]*schema.StageMetrics{}
	ensure := func(stage string) *schema.StageMetrics {
		sm, ok := stages[stage]
		if !ok {
			sm = &schema.StageMetrics{}
			stages[stage] = sm
		}
		return sm
	}

	var startTimes = map[string]time.Time{}
	for _, line := range lines {
		var ev schema.TelemetryEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		stageKey := string(ev.Stage)
		switch ev.Type {
		case schema.EventStageStarted:
			ensure(stageKey).AttemptsTotal++
			startTimes[stageKey] = ev.TS
		case schema.EventStageRetryPlanned:
			ensure(stageKey).RetriesTotal++
		case schema.EventStageFinished:
			sm := ensure(stageKey)
			if ev.Outcome == "failed" || ev.Outcome == "timed_out" {
				sm.FailuresTotal++
			}
			if ev.Outcome == "timed_out" {
				sm.TimeoutsTotal++
			}
			if start, ok := startTimes[stageKey]; ok {
				sm.DurationS += ev.TS.Sub(start).Seconds()
			}
		case schema.EventWatchdogTimeout:
			ensure(stageKey).TimeoutsTotal++
		}
	}

	out := make(map[string]schema.StageMetrics, len(stages))
	for k, v := range stages {
		out[k] = *v
	}

	runDuration := m.UpdatedAt.Sub(m.CreatedAt).Seconds()
	rm := &schema.RunMetrics{
		SchemaVersion: schema.RunMetricsSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		LastSeq:       idx.LastSeq,
		RunStatus:     m.Status,
		RunDurationS:  runDuration,
		Stages:        out,
	}

	if e := store.AtomicWriteJSON(metricsPath, rm); e != nil {
		return nil, e
	}
	if e := writePrometheusTextfile(runRoot, rm); e != nil {
		return nil, e
	}
	return rm, nil
}

// writePrometheusTextfile renders rm through a private prometheus
// registry into metrics/run-metrics.prom, in the shape a node-exporter
// textfile collector expects. The registry is created fresh per call and
// never shared with the global default registry; this process never
// starts an HTTP listener.
func writePrometheusTextfile(runRoot string, rm *schema.RunMetrics) *errs.Error {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resorch_stage_attempts_total", Help: "Attempts observed per stage.",
	}, []string{"stage"})
	retries := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resorch_stage_retries_total", Help: "Retries observed per stage.",
	}, []string{"stage"})
	failures := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resorch_stage_failures_total", Help: "Failures observed per stage.",
	}, []string{"stage"})
	timeouts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resorch_stage_timeouts_total", Help: "Timeouts observed per stage.",
	}, []string{"stage"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resorch_stage_duration_seconds", Help: "Cumulative duration observed per stage.",
	}, []string{"stage"})
	runStatus := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resorch_run_duration_seconds", Help: "Run duration so far.",
	})

	registry.MustRegister(attempts, retries, failures, timeouts, duration, runStatus)

	for stage, sm := range rm.Stages {
		attempts.WithLabelValues(stage).Set(float64(sm.AttemptsTotal))
		retries.WithLabelValues(stage).Set(float64(sm.RetriesTotal))
		failures.WithLabelValues(stage).Set(float64(sm.FailuresTotal))
		timeouts.WithLabelValues(stage).Set(float64(sm.TimeoutsTotal))
		duration.WithLabelValues(stage).Set(sm.DurationS)
	}
	runStatus.Set(rm.RunDurationS)

	families, err := registry.Gather()
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "gather prometheus metric families", err, nil)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return errs.Wrap(errs.WriteFailed, "encode prometheus metric family", err, nil)
		}
	}

	path, we := store.WithinRoot(runRoot, filepath.Join("metrics", "run-metrics.prom"))
	if we != nil {
		return we
	}
	return store.AtomicWriteText(path, buf.Bytes())
}
