package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

type latency struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latency          `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latency                 `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

func (r report) print(w io.Writer, opts options) {
	fmt.Fprintf(w, "mode=%s run=%s scenarios=%d failed=%d error_rate=%.4f duration=%.2fs rps=%.2f\n",
		opts.flow, opts.target(), r.TotalScenarios, r.FailedScenarios, r.ErrorRate, r.DurationSeconds, r.RPS)

	names := make([]string, 0, len(r.Methods))
	for name := range r.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tCALLS\tFAILED\tAVG ms\tP50 ms\tP95 ms\tP99 ms")
	row := func(name string, calls, failed int64, l latency) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n", name, calls, failed, l.Avg, l.P50, l.P95, l.P99)
	}
	row(scenarioMethod, r.TotalScenarios, r.FailedScenarios, r.ScenarioLatencyMs)
	for _, name := range names {
		m := r.Methods[name]
		row(name, m.Calls, m.Failed, m.LatencyMs)
	}
	_ = tw.Flush()
}

// save пишет отчёт в JSON. Путь должен указывать на файл внутри рабочего каталога.
func (r report) save(path string) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("report path must name a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("report path %s escapes the working directory", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(clean, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
