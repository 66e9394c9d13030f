package main

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc/status"
)

const (
	latencyMetric = "loadtest_call_duration_seconds"
	callsMetric   = "loadtest_calls_total"
)

// stats копит задержки и коды ответов в собственном реестре Prometheus.
type stats struct {
	reg     *prometheus.Registry
	latency *prometheus.SummaryVec
	calls   *prometheus.CounterVec
}

func newStats() *stats {
	s := &stats{
		reg: prometheus.NewRegistry(),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       latencyMetric,
			Help:       "Latency of load test calls.",
			Objectives: map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     24 * time.Hour,
		}, []string{"method"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: callsMetric,
			Help: "Load test calls by method and gRPC code.",
		}, []string{"method", "code"}),
	}
	s.reg.MustRegister(s.latency, s.calls)
	return s
}

func (s *stats) observe(method string, d time.Duration, err error) {
	s.latency.WithLabelValues(method).Observe(d.Seconds())
	s.calls.WithLabelValues(method, status.Code(err).String()).Inc()
}

// report собирает сводку из снимка реестра.
func (s *stats) report(started time.Time, elapsed time.Duration) (report, error) {
	families, err := s.reg.Gather()
	if err != nil {
		return report{}, fmt.Errorf("gather load test metrics: %w", err)
	}

	methods := make(map[string]methodReport)
	entry := func(name string) methodReport {
		m, ok := methods[name]
		if !ok {
			m.Codes = make(map[string]int64)
		}
		return m
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := labelMap(m.GetLabel())
			name := labels["method"]
			r := entry(name)
			switch mf.GetName() {
			case latencyMetric:
				r.LatencyMs = latencyFrom(m.GetSummary())
			case callsMetric:
				n := int64(m.GetCounter().GetValue())
				r.Calls += n
				r.Codes[labels["code"]] += n
				if labels["code"] != "OK" {
					r.Failed += n
				}
			}
			methods[name] = r
		}
	}

	out := report{
		StartedAt:       started.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(methods)),
	}
	for name, m := range methods {
		m.ErrorRate = share(m.Failed, m.Calls)
		if name == scenarioMethod {
			out.TotalScenarios = m.Calls
			out.FailedScenarios = m.Failed
			out.ErrorRate = m.ErrorRate
			out.ScenarioLatencyMs = m.LatencyMs
			continue
		}
		out.Methods[name] = m
	}
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out, nil
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.GetName()] = p.GetValue()
	}
	return out
}

// latencyFrom переводит квантили Summary в миллисекунды. Пустые квантили дают NaN, их отбрасываем.
func latencyFrom(s *dto.Summary) latency {
	var l latency
	if n := s.GetSampleCount(); n > 0 {
		l.Avg = ms(s.GetSampleSum() / float64(n))
	}
	for _, q := range s.GetQuantile() {
		v := q.GetValue()
		if math.IsNaN(v) {
			continue
		}
		switch q.GetQuantile() {
		case 0.5:
			l.P50 = ms(v)
		case 0.95:
			l.P95 = ms(v)
		case 0.99:
			l.P99 = ms(v)
		}
	}
	return l
}

func ms(seconds float64) float64 { return seconds * 1000 }

func share(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
