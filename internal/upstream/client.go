// Package upstream performs the single provider call behind a billed request
// and classifies its result.
package upstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/observability"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Kind int

const (
	KindSuccess Kind = iota
	KindUpstreamError
	KindTimeout
	KindNetworkFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindUpstreamError:
		return "upstream_error"
	case KindTimeout:
		return "timeout"
	case KindNetworkFailure:
		return "network_failure"
	default:
		return "unknown"
	}
}

type Input struct {
	Data     string
	BillerID string
}

type Result struct {
	Kind        Kind
	StatusCode  int
	Body        []byte
	ContentType string
	// Err carries the transport error for Timeout and NetworkFailure.
	Err error
}

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxBodySize = 1 << 20
)

type Client struct {
	httpClient  *http.Client
	timeout     time.Duration
	maxBodySize int64
}

func NewClient(timeout time.Duration, maxBodySize int64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Invoke issues one GET to the provider. It never retries.
func (c *Client) Invoke(ctx context.Context, svc *models.Service, in Input) Result {
	ctx, span := otel.Tracer("upstream").Start(ctx, "Invoke")
	span.SetAttributes(attribute.String("service", svc.Slug))
	defer span.End()

	start := time.Now()
	res := c.invoke(ctx, svc, in)
	observability.UpstreamDuration.WithLabelValues(svc.Slug, res.Kind.String()).Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("result", res.Kind.String()), attribute.Int("status_code", res.StatusCode))
	if res.Kind != KindSuccess {
		span.SetStatus(codes.Error, res.Kind.String())
	}
	return res
}

func (c *Client) invoke(ctx context.Context, svc *models.Service, in Input) Result {
	target, err := BuildURL(svc, in)
	if err != nil {
		return Result{Kind: KindNetworkFailure, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Kind: KindNetworkFailure, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{Kind: KindTimeout, Err: err}
		}
		slog.Warn("upstream request failed", "method", "Invoke", "service", svc.Slug, "error", err)
		return Result{Kind: KindNetworkFailure, Err: err}
	}
	defer resp.Body.Close()

	// One byte past the cap tells a full body from a cut one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{Kind: KindTimeout, StatusCode: resp.StatusCode, Err: err}
		}
		return Result{Kind: KindNetworkFailure, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > c.maxBodySize {
		slog.Warn("upstream body over limit", "method", "Invoke", "service", svc.Slug, "limit", c.maxBodySize)
		return Result{
			Kind:        KindUpstreamError,
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Err:         fmt.Errorf("%w: more than %d bytes", pkgerrors.ErrResponseTooLarge, c.maxBodySize),
		}
	}

	res := Result{StatusCode: resp.StatusCode, Body: body, ContentType: resp.Header.Get("Content-Type")}
	if Succeeded(svc, resp.StatusCode, body) {
		res.Kind = KindSuccess
	} else {
		res.Kind = KindUpstreamError
	}
	return res
}

// Succeeded applies the per-service success contract: a 2xx status and, when
// the service names a success field, a truthy value at that JSON path.
func Succeeded(svc *models.Service, status int, body []byte) bool {
	if status < 200 || status > 299 {
		return false
	}
	if svc.SuccessField == "" {
		return true
	}
	if !gjson.ValidBytes(body) {
		return false
	}
	return truthy(gjson.GetBytes(body, svc.SuccessField))
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float() != 0
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "true", "success", "ok":
			return true
		}
	}
	return false
}

func isTimeout(ctx context.Context, err error) bool {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
