// Package scenario implements one load test iteration against the
// sightings API: create a record, optionally read it back, optionally list
// all records.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/shroomp/shroomload/internal/check"
	"github.com/shroomp/shroomload/internal/metrics"
	"github.com/shroomp/shroomload/internal/workload"
)

// Request names used for per-request metrics.
const (
	RequestCreate = "create"
	RequestGet    = "get"
	RequestList   = "list"
)

// Options configures a Scenario.
type Options struct {
	// BaseURL of the sightings API
	BaseURL string

	// GetProbability is the chance of reading back a successfully created record
	GetProbability float64

	// ListProbability is the chance of listing all records, independent of create
	ListProbability float64

	// MaxDuration bounds the create latency check; 0 disables it
	MaxDuration time.Duration

	// Headers are added to every request
	Headers map[string]string

	UserAgent string
}

// DefaultOptions returns the standard workload mix.
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:         baseURL,
		GetProbability:  0.3,
		ListProbability: 0.2,
		MaxDuration:     2 * time.Second,
	}
}

// Scenario runs iterations. It is safe for concurrent use by many VUs.
type Scenario struct {
	opts     Options
	itemsURL string

	gen     *workload.Generator
	eval    *check.Evaluator
	metrics *metrics.Engine
	errRate *metrics.Rate
	client  *http.Client
	logger  *zap.Logger

	createChecks []check.Check
	listChecks   []check.Check
}

// New creates a Scenario. A nil client uses http.DefaultClient and a nil
// logger discards output.
func New(opts Options, gen *workload.Generator, eval *check.Evaluator, m *metrics.Engine, client *http.Client, logger *zap.Logger) (*Scenario, error) {
	if gen == nil || eval == nil || m == nil {
		return nil, errors.New("scenario: generator, evaluator and metrics are required")
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("scenario: invalid base URL %q", opts.BaseURL)
	}
	if opts.GetProbability < 0 || opts.GetProbability > 1 {
		return nil, fmt.Errorf("scenario: get probability %v out of range [0,1]", opts.GetProbability)
	}
	if opts.ListProbability < 0 || opts.ListProbability > 1 {
		return nil, fmt.Errorf("scenario: list probability %v out of range [0,1]", opts.ListProbability)
	}

	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts.BaseURL = base
	return &Scenario{
		opts:         opts,
		itemsURL:     base + "/items",
		gen:          gen,
		eval:         eval,
		metrics:      m,
		errRate:      m.Rate(metrics.MetricErrors),
		client:       client,
		logger:       logger,
		createChecks: check.CreateChecks(opts.MaxDuration),
		listChecks:   check.ListChecks(),
	}, nil
}

// Iterate runs one iteration for the given VU and returns the think time
// the caller should wait before the next one. Iterate itself never sleeps.
//
// Every failure is recorded in metrics; none is returned. Requests cut off
// by ctx cancellation are not recorded.
func (s *Scenario) Iterate(ctx context.Context, vuID int) time.Duration {
	record := s.gen.Generate()

	payload, err := json.Marshal(record)
	if err != nil {
		// SightingRecord only holds strings and ints.
		s.logger.Error("failed to encode sighting", zap.Error(err))
		return s.gen.ThinkTime()
	}

	resp, ok := s.do(ctx, RequestCreate, http.MethodPost, s.itemsURL, payload)
	if !ok {
		return 0
	}

	created := check.Passed(s.eval.Evaluate(resp, s.createChecks))
	s.errRate.Add(!created)

	if !created {
		s.logger.Debug("create failed",
			zap.Int("vu", vuID),
			zap.Int("status", resp.Status),
			zap.Error(resp.Err),
		)
	}

	if created && s.gen.Chance(s.opts.GetProbability) {
		id := createdID(resp.Body)
		getResp, ok := s.do(ctx, RequestGet, http.MethodGet, s.itemsURL+"/"+url.PathEscape(id), nil)
		if !ok {
			return 0
		}
		s.eval.Evaluate(getResp, check.GetChecks(id))
	}

	if s.gen.Chance(s.opts.ListProbability) {
		listResp, ok := s.do(ctx, RequestList, http.MethodGet, s.itemsURL, nil)
		if !ok {
			return 0
		}
		s.eval.Evaluate(listResp, s.listChecks)
	}

	return s.gen.ThinkTime()
}

// do issues one request and records its latency. It returns false when the
// request was interrupted by ctx, in which case nothing is recorded.
func (s *Scenario) do(ctx context.Context, name, method, target string, body []byte) (check.Response, bool) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		resp := check.Response{Err: fmt.Errorf("failed to build request: %w", err)}
		s.metrics.RecordLatency(0, name, false, 0)
		return resp, true
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return check.Response{}, false
		}
		resp := check.Response{Duration: time.Since(start), Err: err}
		s.metrics.RecordLatency(resp.Duration, name, false, 0)
		s.logger.Debug("request failed", zap.String("request", name), zap.Error(err))
		return resp, true
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return check.Response{}, false
		}
		resp := check.Response{Status: httpResp.StatusCode, Duration: duration, Err: fmt.Errorf("failed to read response body: %w", err)}
		s.metrics.RecordLatency(duration, name, false, int64(len(data)))
		return resp, true
	}

	success := httpResp.StatusCode < 400
	s.metrics.RecordLatency(duration, name, success, int64(len(data)))

	return check.Response{
		Status:   httpResp.StatusCode,
		Body:     data,
		Duration: duration,
	}, true
}

// createdID returns the id of a created record as it appears in the
// read-back path. A JSON null id is rendered as "null" rather than an empty
// segment, which would address the collection instead of a record.
func createdID(body []byte) string {
	v := gjson.GetBytes(body, "id")
	if v.Type == gjson.Null {
		return "null"
	}
	return v.String()
}
