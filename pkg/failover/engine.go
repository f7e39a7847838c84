// Package failover implements the central state machine that orchestrates
// attempts across a provider's ranked key list under a global deadline,
// drives state transitions via the State Updater, and returns the first
// successful upstream response or a terminal failure. See spec.md §4.6.
package failover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aikeygate/gateway/pkg/classifier"
	"github.com/aikeygate/gateway/pkg/cooldowncache"
	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
	"github.com/aikeygate/gateway/pkg/providers"
	"github.com/aikeygate/gateway/pkg/stateupdater"
)

// DefaultOverallTimeout and DefaultTargetTimeout mirror spec.md §6's
// OVERALL_TIMEOUT_MS / TARGET_TIMEOUT_MS defaults.
const (
	DefaultOverallTimeout = 25 * time.Second
	DefaultTargetTimeout  = 10 * time.Second

	// MaxSameKeyRetries bounds in-place retries of a TransientSameKey
	// outcome against the same key, per spec.md §4.6.
	MaxSameKeyRetries = 2

	// gatewayAuthHeader carries the gateway-level authentication token
	// (spec.md §6) outbound alongside the injected provider key, when one
	// is configured. Named after Cloudflare AI Gateway's own header; any
	// gateway-fronted upstream expecting an equivalent header can reuse it.
	gatewayAuthHeader = "cf-aig-authorization"
)

var tracer = otel.Tracer("github.com/aikeygate/gateway/pkg/failover")

// HTTPDoer is the subset of *http.Client the engine depends on, so tests
// can substitute a fake upstream without a real network call.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Engine is the failover state machine. All fields are safe for concurrent
// use across requests.
type Engine struct {
	mainCache    *maincache.Cache
	cooldown     *cooldowncache.Cache
	stateUpdater *stateupdater.Updater
	capTable     *providers.Table
	client       HTTPDoer
	log          *slog.Logger

	overallTimeout time.Duration
	targetTimeout  time.Duration

	// gatewayToken, when set, is carried outbound on every attempt as a
	// gateway-level authentication header alongside the injected provider
	// key (spec.md §6's "any gateway-level authentication header").
	gatewayToken string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithTimeouts overrides the default overall/target timeouts.
func WithTimeouts(overall, target time.Duration) Option {
	return func(e *Engine) {
		if overall > 0 {
			e.overallTimeout = overall
		}
		if target > 0 {
			e.targetTimeout = target
		}
	}
}

// WithHTTPClient overrides the default *http.Client, primarily for tests.
func WithHTTPClient(c HTTPDoer) Option {
	return func(e *Engine) { e.client = c }
}

// WithLogger overrides the default discard logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithGatewayToken sets the gateway-level authentication header value
// (config.Config.AIGatewayToken) carried on every outbound attempt
// alongside the injected provider key. A blank token wires nothing; the
// header is only set when non-empty.
func WithGatewayToken(token string) Option {
	return func(e *Engine) { e.gatewayToken = token }
}

// New creates an Engine wired to the given caches, state updater, and
// provider capability table.
func New(mainCache *maincache.Cache, cooldown *cooldowncache.Cache, su *stateupdater.Updater, capTable *providers.Table, opts ...Option) *Engine {
	e := &Engine{
		mainCache:      mainCache,
		cooldown:       cooldown,
		stateUpdater:   su,
		capTable:       capTable,
		client:         &http.Client{},
		log:            slog.New(slog.DiscardHandler),
		overallTimeout: DefaultOverallTimeout,
		targetTimeout:  DefaultTargetTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the full failover lifecycle for one inbound request.
func (e *Engine) Execute(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gateway.proxy_request",
		trace.WithAttributes(
			attribute.String("gateway.provider", req.Provider),
			attribute.String("gateway.model", req.Model),
		))
	defer span.End()

	pc, ok := e.capTable.Lookup(req.Provider)
	if !ok {
		span.SetStatus(codes.Error, ErrUnknownProvider.Error())
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}

	overallDeadline := time.Now().Add(e.overallTimeout)
	ctx, cancel := context.WithDeadline(ctx, overallDeadline)
	defer cancel()

	entry, err := e.mainCache.Get(ctx, req.Provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", keystore.ErrStoreUnavailable, err)
	}

	candidates := e.rankedCandidates(entry, req.Model)
	if len(candidates) == 0 {
		span.SetStatus(codes.Error, ErrNoHealthyKey.Error())
		return nil, ErrNoHealthyKey
	}

	var attempts []AttemptRecord
	attemptNo := 0

	for _, key := range candidates {
		retries := 0

		for {
			now := time.Now()
			attemptDeadline := now.Add(e.targetTimeout)
			if attemptDeadline.After(overallDeadline) {
				// The full per-attempt budget no longer fits before the
				// overall deadline. Don't start a truncated attempt; fail
				// the request now rather than let it run out mid-flight.
				e.logAttempts(req, attempts)
				span.SetStatus(codes.Error, ErrDeadlineExceeded.Error())
				return nil, ErrDeadlineExceeded
			}

			attemptNo++
			resp, outcome, latency, attemptErr := e.attempt(ctx, attemptDeadline, pc, key, req, attemptNo)
			attempts = append(attempts, recordFor(key.ID, attemptNo, outcome, resp, latency, attemptErr))

			switch outcome.Outcome {
			case classifier.Success:
				e.stateUpdater.OnSuccess(key.ID, key.CreatedAt, latency)
				e.logAttempts(req, attempts)
				span.SetStatus(codes.Ok, "")
				return resp, nil

			case classifier.TransientSameKey:
				e.stateUpdater.OnTransient(key.ID, key.CreatedAt, key.TotalCoolingSeconds)
				if retries < MaxSameKeyRetries && overallDeadline.After(time.Now()) {
					retries++
					continue
				}
				// same-key retry budget exhausted, or no time left: advance

			case classifier.KeyOnCooldown:
				e.stateUpdater.OnCooldown(ctx, key.ID, key.CreatedAt, key.TotalCoolingSeconds, req.Provider, req.Model, outcome.Cooldown)

			case classifier.KeyInvalid:
				e.stateUpdater.OnBlock(ctx, key.ID, key.CreatedAt, key.TotalCoolingSeconds, req.Provider)

			case classifier.ClientError:
				e.logAttempts(req, attempts)
				span.SetStatus(codes.Ok, "client error passed through")
				return resp, nil

			case classifier.Fatal:
				e.logAttempts(req, attempts)
				span.SetStatus(codes.Error, ErrFatal.Error())
				return nil, fmt.Errorf("%w: %v", ErrFatal, attemptErr)
			}

			break // move to next candidate
		}
	}

	e.logAttempts(req, attempts)
	span.SetStatus(codes.Error, ErrAllKeysFailed.Error())
	return nil, ErrAllKeysFailed
}

// rankedCandidates returns entry's keys in healthiest-first order, filtered
// to those not currently flagged in the Cooldown Cache and not presently
// inside a per-model cooldown window for model (spec.md §9 Open Question
// (b): both the key-level Cooldown Cache and per-model cooldowns gate
// selection).
func (e *Engine) rankedCandidates(entry maincache.Entry, model string) []keystore.Key {
	byID := make(map[uuid.UUID]keystore.Key, len(entry.Keys))
	for _, k := range entry.Keys {
		byID[k.ID] = k
	}

	ordered := entry.RankedIDs
	if len(ordered) == 0 {
		// No stats snapshot available (e.g. StatsProvider is nil): fall
		// back to repository order.
		ordered = make([]healthscore.Stats, len(entry.Keys))
		for i, k := range entry.Keys {
			ordered[i] = healthscore.Stats{KeyID: k.ID, CreatedAt: k.CreatedAt}
		}
	}

	now := time.Now()
	candidates := make([]keystore.Key, 0, len(ordered))
	for _, s := range ordered {
		if e.cooldown.IsFlagged(s.KeyID) {
			continue
		}
		k, ok := byID[s.KeyID]
		if !ok {
			continue
		}
		if k.IsCoolingForModel(model, now) {
			continue
		}
		candidates = append(candidates, k)
	}
	return candidates
}

// attempt issues one upstream call bounded by deadline, classifies the
// result, and returns the response (if any), the classification, the
// measured latency, and the underlying error (if any).
func (e *Engine) attempt(ctx context.Context, deadline time.Time, pc providers.Capability, key keystore.Key, req Request, attemptNo int) (*Response, classifier.Result, time.Duration, error) {
	attemptCtx, span := tracer.Start(ctx, "gateway.attempt",
		trace.WithAttributes(
			attribute.String("key.id", key.ID.String()),
			attribute.Int("attempt.no", attemptNo),
		))
	defer span.End()

	attemptCtx, cancel := context.WithDeadline(attemptCtx, deadline)
	defer cancel()

	upstreamURL, err := pc.BuildUpstreamURL(pc, req.Path, req.RawQuery)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, classifier.Result{Outcome: classifier.Fatal}, 0, err
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, upstreamURL, bytes.NewReader(req.Body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, classifier.Result{Outcome: classifier.Fatal}, 0, err
	}
	copyForwardableHeaders(httpReq.Header, req.Header)
	pc.InjectAuth(pc, httpReq, key.Secret)
	if e.gatewayToken != "" {
		httpReq.Header.Set(gatewayAuthHeader, e.gatewayToken)
	}

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		outcome := classifier.Classify(0, nil, nil)
		span.SetAttributes(attribute.String("outcome", outcome.Outcome.String()))
		span.RecordError(err)
		return nil, outcome, latency, err
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		span.RecordError(readErr)
		return nil, classifier.Result{Outcome: classifier.Fatal}, latency, readErr
	}

	headers := flattenHeader(httpResp.Header)
	outcome := classifier.Classify(httpResp.StatusCode, headers, body)
	span.SetAttributes(
		attribute.String("outcome", outcome.Outcome.String()),
		attribute.Int("http.status_code", httpResp.StatusCode),
	)

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	return resp, outcome, latency, nil
}

// copyForwardableHeaders copies inbound headers to the outbound request,
// excluding the client's own Authorization header — the spec requires it
// is never forwarded upstream; only the injected provider key may carry
// credentials.
func copyForwardableHeaders(dst, src http.Header) {
	for k, vv := range src {
		if http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func recordFor(keyID uuid.UUID, attemptNo int, outcome classifier.Result, resp *Response, latency time.Duration, err error) AttemptRecord {
	masked := keyID.String()
	if len(masked) > 4 {
		masked = masked[len(masked)-4:]
	}
	rec := AttemptRecord{
		KeyIDMasked: masked,
		AttemptNo:   attemptNo,
		Outcome:     outcome.Outcome.String(),
		LatencyMS:   latency.Milliseconds(),
	}
	if resp != nil {
		rec.StatusCode = resp.StatusCode
	}
	if err != nil {
		rec.Err = err.Error()
	}
	return rec
}

func (e *Engine) logAttempts(req Request, attempts []AttemptRecord) {
	e.log.Info("gateway request completed",
		"provider", req.Provider,
		"model", req.Model,
		"attempts", len(attempts),
	)
	for _, a := range attempts {
		e.log.Debug("gateway attempt",
			"key_suffix", a.KeyIDMasked,
			"attempt_no", a.AttemptNo,
			"outcome", a.Outcome,
			"status_code", a.StatusCode,
			"latency_ms", a.LatencyMS,
			"error", a.Err,
		)
	}
}

// IsStoreUnavailable reports whether err originated from a Key Repository
// outage, letting the HTTP layer map it to 503 without importing keystore
// directly.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, keystore.ErrStoreUnavailable)
}
