// Package transport implements pub.Transport over the service's HTTP API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"pubclient/internal/pub"
	"pubclient/internal/validator"
)

const (
	opRead    = "read"
	opCommit  = "commit"
	opPublish = "publish"

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

var _ pub.Transport = (*HTTPTransport)(nil)

// HTTPTransport talks to the pub/sub service REST API.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the default otelhttp-instrumented client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// WithTimeout sets the per-request timeout. It applies to a copy of the
// client, so a client passed to WithHTTPClient is left unchanged.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.timeout = d
	}
}

// New creates a transport for the service at baseURL. A trailing slash on
// baseURL is ignored.
func New(baseURL string, logger *zap.Logger, opts ...Option) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	t := HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(&t)
	}

	if err := validator.Validate("transport", t.client, t.logger); err != nil {
		return nil, fmt.Errorf("failed to validate transport deps: %w", err)
	}
	if t.timeout > 0 {
		client := *t.client
		client.Timeout = t.timeout
		t.client = &client
	}
	t.logger = t.logger.Named("transport")

	return &t, nil
}

// Read implements pub.Transport.Read.
func (t *HTTPTransport) Read(ctx context.Context, coord pub.Coordinate, batchSize int) ([]pub.Event, error) {
	if batchSize <= 0 {
		return nil, &pub.Error{Op: opRead, Kind: pub.KindBadRequest, Detail: "batch size must be positive"}
	}

	u := t.subscriptionURL(coord, "events") + "?batchSize=" + strconv.Itoa(batchSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, pub.NewError(opRead, pub.KindTransport, err)
	}

	status, body, err := t.do(req, opRead)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return []pub.Event{}, nil
	}

	var events []pub.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, &pub.Error{Op: opRead, Kind: pub.KindTransport, Status: status, Detail: "failed to decode events", Err: err}
	}
	if events == nil {
		events = []pub.Event{}
	}

	return events, nil
}

// Commit implements pub.Transport.Commit.
func (t *HTTPTransport) Commit(ctx context.Context, coord pub.Coordinate, ids []uuid.UUID) (int, error) {
	if ids == nil {
		ids = []uuid.UUID{}
	}

	body, err := json.Marshal(ids)
	if err != nil {
		return 0, pub.NewError(opCommit, pub.KindBadRequest, err)
	}

	req, err := t.newJSONRequest(ctx, opCommit, t.subscriptionURL(coord, "event-commits"), body)
	if err != nil {
		return 0, err
	}

	return t.doCount(req, opCommit)
}

// Publish implements pub.Transport.Publish.
func (t *HTTPTransport) Publish(ctx context.Context, organization, topic string, reqs []pub.PublishRequest) (int, error) {
	if reqs == nil {
		reqs = []pub.PublishRequest{}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return 0, pub.NewError(opPublish, pub.KindBadRequest, err)
	}

	req, err := t.newJSONRequest(ctx, opPublish, t.topicURL(organization, topic)+"/events", body)
	if err != nil {
		return 0, err
	}

	return t.doCount(req, opPublish)
}

func (t *HTTPTransport) newJSONRequest(ctx context.Context, op, u string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, pub.NewError(op, pub.KindTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// doCount sends req and decodes a bare integer body. 204 and any other
// non-error status without a body count as zero.
func (t *HTTPTransport) doCount(req *http.Request, op string) (int, error) {
	status, body, err := t.do(req, op)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, &pub.Error{Op: op, Kind: pub.KindTransport, Status: status, Detail: "failed to decode count", Err: err}
	}

	return n, nil
}

// do sends req and returns the status and body, or a classified error for
// failed round trips and error statuses.
func (t *HTTPTransport) do(req *http.Request, op string) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	logger := t.logger.With(zap.String("op", op), zap.String("method", req.Method), zap.String("url", req.URL.Path))

	resp, err := t.client.Do(req)
	if err != nil {
		logger.Debug("request failed", zap.Error(err))
		return 0, nil, pub.NewError(op, pub.KindTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, &pub.Error{Op: op, Kind: pub.KindTransport, Status: resp.StatusCode, Detail: "failed to read body", Err: err}
	}

	logger.Debug("request completed", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))

	if err := classify(op, resp.StatusCode, body); err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, body, nil
}

// classify maps an error status to a pub.Error. It returns nil for
// statuses below 400.
func classify(op string, status int, body []byte) error {
	var kind pub.Kind
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusNotFound:
		kind = pub.KindNotFound
	case status == http.StatusConflict:
		kind = pub.KindConflict
	case status >= http.StatusInternalServerError:
		kind = pub.KindServerError
	default:
		kind = pub.KindBadRequest
	}

	e := &pub.Error{Op: op, Kind: kind, Status: status}
	if kind == pub.KindBadRequest {
		e.Detail = strings.TrimSpace(string(body))
	}

	return e
}

func (t *HTTPTransport) topicURL(organization, topic string) string {
	return t.baseURL + "/" + url.PathEscape(organization) + "/topics/" + url.PathEscape(topic)
}

func (t *HTTPTransport) subscriptionURL(coord pub.Coordinate, resource string) string {
	return t.topicURL(coord.Organization, coord.Topic) + "/subscriptions/" + url.PathEscape(coord.Subscription) + "/" + resource
}
