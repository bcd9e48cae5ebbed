package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status компонента. Итоговый статус берётся по худшему: unhealthy > degraded > healthy.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check() Check
}

// Handler собирает проверки хранилища, webhook guard и outbox и отдаёт /healthz и /readyz.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
	}
}

// RegisterChecker заменяет проверку с тем же именем; nil игнорируется.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	if checker == nil {
		return
	}
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Names: имена проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.checkers))
}

// evaluate запускает проверки параллельно; каждая сама ограничена своим таймаутом.
func (h *Handler) evaluate() (map[string]Check, Status) {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, checker := range checkers {
		g.Go(func() error {
			check := checker.Check()
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		overall = worse(overall, check.Status)
	}
	return checks, overall
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// ServeHTTP отвечает JSON-отчётом; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checks, overall := h.evaluate()

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

// ReadinessHandler: degraded (Redis-дедупликация, backlog outbox) готовность не снимает.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if _, overall := h.evaluate(); overall == StatusUnhealthy {
		writePlain(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writePlain(w, http.StatusOK, "ready")
}

func writePlain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// SimpleChecker простая проверка с функцией
type SimpleChecker struct {
	name    string
	checkFn func() error
}

// NewSimpleChecker создаёт простую проверку
func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check выполняет проверку
func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()
	return result(c.name, err, StatusUnhealthy, time.Since(start))
}

// PingChecker проверяет внешнюю зависимость через ping с таймаутом.
type PingChecker struct {
	name      string
	ping      func(ctx context.Context) error
	timeout   time.Duration
	onFailure Status
}

// PingOption настраивает PingChecker.
type PingOption func(*PingChecker)

// WithTimeout задаёт таймаут одной проверки.
func WithTimeout(timeout time.Duration) PingOption {
	return func(c *PingChecker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NonCritical помечает зависимость как необязательную: её отказ даёт degraded, а не unhealthy.
func NonCritical() PingOption {
	return func(c *PingChecker) {
		c.onFailure = StatusDegraded
	}
}

// NewPingChecker создаёт проверку для БД, Redis и подобных зависимостей.
func NewPingChecker(name string, ping func(ctx context.Context) error, opts ...PingOption) *PingChecker {
	c := &PingChecker{
		name:      name,
		ping:      ping,
		timeout:   defaultCheckTimeout,
		onFailure: StatusUnhealthy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check выполняет ping.
func (c *PingChecker) Check() Check {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	err := c.ping(ctx)
	return result(c.name, err, c.onFailure, time.Since(start))
}

// BacklogChecker сообщает degraded, когда очередь (например, outbox) растёт выше порога.
type BacklogChecker struct {
	name  string
	size  func(ctx context.Context) (int, error)
	limit int
}

// NewBacklogChecker создаёт проверку размера очереди.
func NewBacklogChecker(name string, limit int, size func(ctx context.Context) (int, error)) *BacklogChecker {
	return &BacklogChecker{name: name, size: size, limit: limit}
}

// Check выполняет проверку.
func (c *BacklogChecker) Check() Check {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCheckTimeout)
	defer cancel()

	start := time.Now()
	n, err := c.size(ctx)
	if err != nil {
		return result(c.name, err, StatusUnhealthy, time.Since(start))
	}

	check := result(c.name, nil, StatusUnhealthy, time.Since(start))
	if c.limit > 0 && n > c.limit {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("backlog %d exceeds %d", n, c.limit)
	}
	return check
}

func result(name string, err error, onFailure Status, duration time.Duration) Check {
	if err != nil {
		return Check{
			Name:       name,
			Status:     onFailure,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}
	return Check{
		Name:       name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}
