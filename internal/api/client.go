package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sheratan/internal/config"
	"sheratan/internal/domain"
)

// Operation names. Each one is routed to a backend by Client.Routes.
const (
	OpListMissions  = "list_missions"
	OpGetMission    = "get_mission"
	OpCreateMission = "create_mission"
	OpDeleteMission = "delete_mission"
	OpListTasks     = "list_tasks"
	OpGetTask       = "get_task"
	OpCreateTask    = "create_task"
	OpMissionTask   = "create_mission_task"
	OpListJobs      = "list_jobs"
	OpGetJob        = "get_job"
	OpCreateJob     = "create_job"
	OpTaskJob       = "create_task_job"
	OpDispatchJob   = "dispatch_job"
	OpSyncJob       = "sync_job"
	OpDeleteJob     = "delete_job"
	OpWorkers       = "list_workers"
	OpLedger        = "get_ledger"
	OpProjects      = "list_projects"
	OpProjectFiles  = "list_project_files"
	OpStatus        = "get_status"
	OpMetrics       = "get_metrics"
	OpServices      = "get_services"
	OpProbe         = "probe"
	OpQuickStart    = "quick_start"
)

// Client is the orchestration backend HTTP client.
type Client struct {
	// Bases maps backend names to base URLs (including the /api prefix).
	Bases        map[string]string
	Routes       map[string]string
	HTTPClient   *http.Client
	Timeout      time.Duration
	ProbeTimeout time.Duration
	LedgerUser   string
	Logger       *slog.Logger
	Now          func() time.Time
	Tracer       trace.Tracer
}

// New creates a client from config.
func New(cfg *config.Config) *Client {
	bases := make(map[string]string, len(cfg.Backends))
	for name, b := range cfg.Backends {
		bases[name] = b.URL
	}
	routes := make(map[string]string, len(cfg.Routes))
	for op, backend := range cfg.Routes {
		routes[op] = backend
	}
	return &Client{
		Bases:        bases,
		Routes:       routes,
		Timeout:      cfg.RequestTimeout,
		ProbeTimeout: cfg.ProbeTimeout,
		LedgerUser:   cfg.LedgerUser,
	}
}

// NewWithBase creates a client that sends every operation to one base URL.
func NewWithBase(baseURL string) *Client {
	return &Client{
		Bases:        map[string]string{config.BackendCore: baseURL},
		Timeout:      10 * time.Second,
		ProbeTimeout: 3 * time.Second,
		LedgerUser:   "alice",
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error: status=%d detail=%s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == domain.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// UnavailableError is a transport failure or timeout against one backend.
type UnavailableError struct {
	Backend string
	BaseURL string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s backend %s unavailable: %v", e.Backend, e.BaseURL, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == domain.ErrUnavailable }

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	return c.doTimeout(ctx, op, c.Timeout, method, endpoint, body, out)
}

func (c *Client) doTimeout(ctx context.Context, op string, timeout time.Duration, method, endpoint string, body any, out any) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backend, base := c.route(op)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := c.tracer().Start(ctx, "sheratan.api."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", endpoint),
			attribute.String("sheratan.backend", backend),
		))
	defer span.End()

	err := c.send(ctx, backend, base, method, endpoint, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) send(ctx context.Context, backend, base, method, endpoint string, body any, out any) error {
	target := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &UnavailableError{Backend: backend, BaseURL: base, Err: err}
	}
	defer resp.Body.Close()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b), Detail: detailOf(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Malformed("response", endpoint, "empty body")
		}
		if ctx.Err() != nil {
			return &UnavailableError{Backend: backend, BaseURL: base, Err: ctx.Err()}
		}
		return domain.Malformed("response", endpoint, err.Error())
	}
	return nil
}

// detailOf extracts {"detail": "..."} or {"error": {"message": "..."}}.
func detailOf(b []byte) string {
	var env struct {
		Detail any `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return ""
	}
	switch d := env.Detail.(type) {
	case string:
		return d
	case nil:
	default:
		data, _ := json.Marshal(d)
		return string(data)
	}
	return env.Error.Message
}

func (c *Client) route(op string) (string, string) {
	backend := c.Routes[op]
	if backend == "" {
		backend = config.BackendCore
	}
	base, ok := c.Bases[backend]
	if !ok {
		base = c.Bases[config.BackendCore]
	}
	return backend, base
}

// BaseURL returns the base URL serving op.
func (c *Client) BaseURL(op string) string {
	_, base := c.route(op)
	return base
}

func (c *Client) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("sheratan/internal/api")
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// absorb logs a failed list read on the diagnostic channel.
func (c *Client) absorb(op string, err error) {
	c.logger().Warn("list read failed; returning empty", "op", op, "err", err)
}

func getList[T any](ctx context.Context, c *Client, op, endpoint string) ([]T, error) {
	var items []T
	if err := c.do(ctx, op, http.MethodGet, endpoint, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func pathf(format string, ids ...string) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(id)
	}
	return fmt.Sprintf(format, args...)
}
