package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"

	syncerrors "github.com/clerkdesk/offline/pkg/errors"
	"github.com/clerkdesk/offline/pkg/logger"
	"github.com/clerkdesk/offline/query"
)

// Client is a REST implementation of the remote table contract. It speaks a
// PostgREST-style dialect: one resource path per table, predicates encoded as
// column=operator.value query parameters, and Prefer: return=representation
// so every write returns the authoritative rows.
type Client struct {
	baseURL *url.URL
	http    Doer
	headers map[string]string
	log     *zap.Logger
}

// ClientOption customises the REST client.
type ClientOption func(*Client)

// WithHTTPClient injects the HTTP transport, primarily for testing.
func WithHTTPClient(doer Doer) ClientOption {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithHeader adds a header to every request, e.g. an API key supplied by the
// host application's auth layer.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// NewClient constructs a REST client for the supplied backend base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}

	client := &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: DefaultTimeout},
		headers: map[string]string{},
		log:     logger.WithComponent("remote"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Select fetches rows for a table, applying predicates server-side.
func (c *Client) Select(ctx context.Context, table string, columns []string, filters query.Filters) ([]query.Row, error) {
	path := c.tablePath(table, filters)
	if len(columns) > 0 {
		path = appendParam(path, "select", strings.Join(columns, ","))
	}

	return c.do(ctx, RequestSpec{Path: path, Method: http.MethodGet})
}

// Insert writes rows and returns them with their server-assigned identity.
func (c *Client) Insert(ctx context.Context, table string, rows []query.Row) ([]query.Row, error) {
	body, err := json.Marshal(rows)
	if err != nil {
		return nil, syncerrors.Wrap(err, "remote: encode insert body")
	}

	return c.do(ctx, RequestSpec{
		Path:    c.tablePath(table, nil),
		Method:  http.MethodPost,
		Headers: writeHeaders(nil),
		Body:    body,
	})
}

// Update patches matching rows and returns the patched set.
func (c *Client) Update(ctx context.Context, table string, patch query.Row, filters query.Filters) ([]query.Row, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, syncerrors.Wrap(err, "remote: encode patch body")
	}

	return c.do(ctx, RequestSpec{
		Path:    c.tablePath(table, filters),
		Method:  http.MethodPatch,
		Headers: writeHeaders(nil),
		Body:    body,
	})
}

// Delete removes matching rows and returns the removed set.
func (c *Client) Delete(ctx context.Context, table string, filters query.Filters) ([]query.Row, error) {
	return c.do(ctx, RequestSpec{
		Path:    c.tablePath(table, filters),
		Method:  http.MethodDelete,
		Headers: writeHeaders(nil),
	})
}

// EncodeInsert freezes a single-row create into a replayable spec. The
// idempotency key travels as a header so re-issued replays can be
// de-duplicated server-side and reconciled locally.
func (c *Client) EncodeInsert(table string, row query.Row, idempotencyKey string) (RequestSpec, error) {
	body, err := json.Marshal([]query.Row{row.WithoutMarkers()})
	if err != nil {
		return RequestSpec{}, syncerrors.Wrap(err, "remote: encode insert body")
	}

	headers := writeHeaders(nil)
	if idempotencyKey != "" {
		headers[IdempotencyHeader] = idempotencyKey
	}

	return RequestSpec{
		Path:    c.tablePath(table, nil),
		Method:  http.MethodPost,
		Headers: headers,
		Body:    body,
	}, nil
}

// EncodeUpdate freezes a patch-by-predicate into a replayable spec.
func (c *Client) EncodeUpdate(table string, patch query.Row, filters query.Filters) (RequestSpec, error) {
	body, err := json.Marshal(patch.WithoutMarkers())
	if err != nil {
		return RequestSpec{}, syncerrors.Wrap(err, "remote: encode patch body")
	}

	return RequestSpec{
		Path:    c.tablePath(table, filters),
		Method:  http.MethodPatch,
		Headers: writeHeaders(nil),
		Body:    body,
	}, nil
}

// EncodeDelete freezes a delete-by-predicate into a replayable spec.
func (c *Client) EncodeDelete(table string, filters query.Filters) (RequestSpec, error) {
	return RequestSpec{
		Path:    c.tablePath(table, filters),
		Method:  http.MethodDelete,
		Headers: writeHeaders(nil),
	}, nil
}

// Replay re-issues a frozen request verbatim.
func (c *Client) Replay(ctx context.Context, spec RequestSpec) error {
	_, err := c.do(ctx, spec)
	return err
}

func (c *Client) do(ctx context.Context, spec RequestSpec) ([]query.Row, error) {
	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, c.baseURL.String()+spec.Path, body)
	if err != nil {
		return nil, syncerrors.Wrap(err, "remote: build request")
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerrors.ErrNetworkUnavailable.WithInternal(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerrors.ErrNetworkUnavailable.WithInternal(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug("remote rejected request",
			zap.String("method", spec.Method),
			zap.String("path", spec.Path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, syncerrors.ErrRemoteRejected.
			WithStatus(resp.StatusCode).
			WithInternal(fmt.Errorf("%s %s: status %d", spec.Method, spec.Path, resp.StatusCode))
	}

	return decodeRows(payload)
}

func decodeRows(payload []byte) ([]query.Row, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '{' {
		var row query.Row
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, syncerrors.Wrap(err, "remote: decode response row")
		}
		return []query.Row{row}, nil
	}

	var rows []query.Row
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, syncerrors.Wrap(err, "remote: decode response rows")
	}
	return rows, nil
}

// tablePath builds the resource path with predicates in deterministic order,
// so identical logical requests produce identical frozen specs.
func (c *Client) tablePath(table string, filters query.Filters) string {
	path := "/" + url.PathEscape(table)
	if len(filters) == 0 {
		return path
	}

	params := url.Values{}
	for column, f := range filters {
		params.Set(column, encodeFilter(f))
	}
	// Values.Encode sorts by key, so identical predicates always freeze to
	// the same path.
	return path + "?" + params.Encode()
}

// encodeFilter renders a predicate as operator.value. Set membership uses the
// in.(a,b,c) form; a predicate without an operator defaults to equality to
// mirror the client-side evaluator.
func encodeFilter(f query.Filter) string {
	op := f.Operator
	if op == "" {
		if f.Value != nil && reflect.TypeOf(f.Value).Kind() == reflect.Slice {
			op = query.OpIn
		} else {
			op = query.OpEq
		}
	}

	if op == query.OpIn {
		v := reflect.ValueOf(f.Value)
		if v.Kind() == reflect.Slice {
			parts := make([]string, 0, v.Len())
			for i := 0; i < v.Len(); i++ {
				parts = append(parts, formatValue(v.Index(i).Interface()))
			}
			return string(op) + ".(" + strings.Join(parts, ",") + ")"
		}
	}

	return string(op) + "." + formatValue(f.Value)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func writeHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "return=representation",
	}
	for key, value := range extra {
		headers[key] = value
	}
	return headers
}

func appendParam(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}
