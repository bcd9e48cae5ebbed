package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	alreadyPaidMessage = "alreadyPaid"
	defaultUnitPrice   = "49.90"
	statusTransport    = "transport_error"
	statusBadResponse  = "bad_response"
)

type loadMode string

const (
	modeCheckout              loadMode = "checkout"
	modeCheckoutConfirm       loadMode = "checkout-confirm"
	modeCheckoutConfirmRepeat loadMode = "checkout-confirm-repeat"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	repeatRate  int
	currency    string
	productID   string
	variantID   string
	sizeLabel   string
	quantity    int
	unitPrice   decimal.Decimal
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов; code: HTTP-статус строкой либо statusTransport/statusBadResponse.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}

	if scenario, ok := result.Methods["scenario"]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue, timeoutValue, durationValue, priceValue string

	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "checkout API base URL")
	flag.IntVar(&cfg.total, "total", 200, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 5m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCheckoutConfirm), "load mode: checkout | checkout-confirm | checkout-confirm-repeat")
	flag.IntVar(&cfg.repeatRate, "repeat-rate", 0, "percent of checkout-confirm scenarios that send a second confirmation (0..100)")
	flag.StringVar(&cfg.currency, "currency", "BRL", "order currency")
	flag.StringVar(&cfg.productID, "product", "PRODUCT-LOAD", "line item product id")
	flag.StringVar(&cfg.variantID, "variant", "", "line item variant id")
	flag.StringVar(&cfg.sizeLabel, "size-label", "", "line item size label, used when -variant is empty")
	flag.IntVar(&cfg.quantity, "quantity", 1, "line item quantity")
	flag.StringVar(&priceValue, "unit-price", defaultUnitPrice, "line item unit price")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse unit-price: %w", err)
	}
	cfg.unitPrice = price

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	switch {
	case cfg.baseURL == "":
		return errors.New("base-url is required")
	case cfg.duration < 0:
		return errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return errors.New("quantity must be > 0")
	case !cfg.unitPrice.IsPositive():
		return errors.New("unit-price must be > 0")
	case cfg.repeatRate < 0 || cfg.repeatRate > 100:
		return errors.New("repeat-rate must be between 0 and 100")
	case len(strings.TrimSpace(cfg.currency)) != 3:
		return errors.New("currency must be a 3-letter code")
	case strings.TrimSpace(cfg.productID) == "":
		return errors.New("product is required")
	case strings.TrimSpace(cfg.variantID) == "" && strings.TrimSpace(cfg.sizeLabel) == "":
		return errors.New("either variant or size-label is required")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutConfirm:
		return modeCheckoutConfirm, nil
	case modeCheckoutConfirmRepeat:
		return modeCheckoutConfirmRepeat, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &apiClient{
		baseURL: cfg.baseURL,
		http: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
			IdleConnTimeout:     30 * time.Second,
		}},
		timeout: cfg.timeout,
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type lineItemPayload struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	SizeLabel string          `json:"sizeLabel,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type buyerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type checkoutPayload struct {
	Items        []lineItemPayload `json:"items"`
	Buyer        buyerPayload      `json:"buyerInfo"`
	ShippingCost decimal.Decimal   `json:"shippingCost"`
	Total        decimal.Decimal   `json:"total"`
	Currency     string            `json:"currency"`
}

type checkoutResult struct {
	OrderID   string `json:"orderId"`
	InitPoint string `json:"initPoint"`
	SessionID string `json:"sessionId"`
}

type confirmPayload struct {
	OrderID string `json:"orderId"`
}

// confirmResult покрывает оба успешных ответа: подтверждение и повторный вызов по оплаченному заказу.
type confirmResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

// statusError: ответ API вне диапазона 2xx.
type statusError struct {
	method string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.method, e.status, e.body)
}

type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// post отправляет JSON и декодирует 2xx-ответ в out. Возвращает код для отчёта.
func (c *apiClient) post(method, path, idempotencyKey string, in, out any) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return statusBadResponse, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return statusTransport, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return statusTransport, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return statusTransport, err
	}
	code := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return code, &statusError{method: method, status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return statusBadResponse, fmt.Errorf("%s: decode response: %w", method, err)
	}
	return code, nil
}

func callCheckout(client *apiClient, payload checkoutPayload, key string, col *collector) (checkoutResult, error) {
	start := time.Now()
	var out checkoutResult
	code, err := client.post("Checkout", "/api/checkout", key, payload, &out)
	if err == nil && out.OrderID == "" {
		code, err = statusBadResponse, errors.New("checkout response returned empty order id")
	}
	col.record("Checkout", time.Since(start), code, err == nil)
	return out, err
}

func callConfirm(client *apiClient, method, orderID string, col *collector) (confirmResult, error) {
	start := time.Now()
	var out confirmResult
	code, err := client.post(method, "/api/payments/confirm", "", confirmPayload{OrderID: orderID}, &out)
	col.record(method, time.Since(start), code, err == nil)
	return out, err
}

func buildCheckoutPayload(cfg config, runID string, index int) checkoutPayload {
	item := lineItemPayload{
		ProductID: cfg.productID,
		VariantID: cfg.variantID,
		Quantity:  cfg.quantity,
		UnitPrice: cfg.unitPrice,
	}
	if item.VariantID == "" {
		item.SizeLabel = cfg.sizeLabel
	}
	return checkoutPayload{
		Items: []lineItemPayload{item},
		Buyer: buyerPayload{
			Name:  "load",
			Email: fmt.Sprintf("load-%s-%d@example.com", runID, index),
		},
		ShippingCost: decimal.Zero,
		Total:        cfg.unitPrice.Mul(decimal.NewFromInt(int64(cfg.quantity))),
		Currency:     strings.ToUpper(cfg.currency),
	}
}

func runScenario(client *apiClient, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	defer func() {
		code := "ok"
		if err != nil {
			code = "failed"
		}
		col.record("scenario", time.Since(scenarioStart), code, err == nil)
	}()

	key := fmt.Sprintf("lt-checkout-%s-%d", runID, index)
	session, err := callCheckout(client, buildCheckoutPayload(cfg, runID, index), key, col)
	if err != nil {
		return err
	}
	if cfg.mode == modeCheckout {
		return nil
	}

	first, err := callConfirm(client, "Confirm", session.OrderID, col)
	if err != nil {
		return err
	}
	if !first.Success {
		return fmt.Errorf("order %s: confirmation returned %q", session.OrderID, first.Status)
	}

	if cfg.mode == modeCheckoutConfirmRepeat || (cfg.mode == modeCheckoutConfirm && shouldRepeatConfirm(index, cfg.repeatRate)) {
		second, repeatErr := callConfirm(client, "ConfirmRepeat", session.OrderID, col)
		if repeatErr != nil {
			return repeatErr
		}
		// повторное подтверждение не должно проходить второй раз
		if second.Message != alreadyPaidMessage {
			return fmt.Errorf("order %s: repeated confirmation was not idempotent: %+v", session.OrderID, second)
		}
	}
	return nil
}

func shouldRepeatConfirm(index, repeatRate int) bool {
	if repeatRate <= 0 {
		return false
	}
	if repeatRate >= 100 {
		return true
	}
	return index%100 < repeatRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь к отчёту задаётся явно флагом -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Checkout load summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	lat := result.ScenarioLatencyMs
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms codes=%v\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95, stats.Codes)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile: линейная интерполяция по отсортированной выборке.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
