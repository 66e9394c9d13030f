// Package health отдаёт /healthz и /readyz по зарегистрированным проверкам компонентов
// и следит за готовностью для gRPC health service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы: итог сервиса — худший из компонентов.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

const defaultCheckTimeout = 2 * time.Second

type Check struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// Checker проверяет один компонент. ctx уже ограничен таймаутом проверки.
type Checker interface {
	Check(ctx context.Context) Check
}

// Report — результат одного прохода всех проверок.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Ready сообщает, можно ли направлять трафик. Degraded не снимает готовность.
func (r Report) Ready() bool { return r.Status != StatusUnhealthy }

// Failing возвращает имена компонентов, которые не healthy, по алфавиту.
func (r Report) Failing() []string {
	var names []string
	for name, c := range r.Checks {
		if c.Status != StatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Handler хранит проверки и отвечает на HTTP-пробы.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
		timeout:  defaultCheckTimeout,
	}
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Evaluate запускает все проверки параллельно, каждую со своим таймаутом.
func (h *Handler) Evaluate(ctx context.Context) Report {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		checkers[name] = c
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = Report{
			Status:        StatusHealthy,
			Timestamp:     time.Now().UTC(),
			Checks:        make(map[string]Check, len(checkers)),
			Version:       h.version,
			UptimeSeconds: int64(time.Since(h.started).Seconds()),
		}
	)
	for name, checker := range checkers {
		name, checker := name, checker
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			result := checker.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result.Status.severity() > report.Status.severity() {
				report.Status = result.Status
			}
		}()
	}
	wg.Wait()
	return report
}

// ServeHTTP отдаёт полный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())
	code := http.StatusOK
	if !report.Ready() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// ReadinessHandler — короткая проба для балансировщика.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.Evaluate(r.Context()).Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// Watch вызывает onChange с первым отчётом и затем при каждой смене готовности.
// Проверки повторяются раз в interval до отмены ctx.
func (h *Handler) Watch(ctx context.Context, interval time.Duration, onChange func(Report)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	first := true
	var ready bool
	for {
		report := h.Evaluate(ctx)
		if ctx.Err() != nil {
			return
		}
		if first || report.Ready() != ready {
			first = false
			ready = report.Ready()
			onChange(report)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
