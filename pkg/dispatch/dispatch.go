/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dispatch is the Dispatcher (SPEC_FULL.md §4.3): it takes a prompt
// its caller has already assembled (with pkg/prompt) and does no prompt
// assembly of its own, hands it to a pluggable agent.Provider, extracts and validates the
// resulting JSON, records token usage, and emits lifecycle events — all
// while guarding every (taskType, agent) pair behind its own circuit
// breaker and bounding overall concurrency.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/dispatch/agent"
	"github.com/johnplanow/substrate/pkg/eventbus"
	"github.com/johnplanow/substrate/pkg/resilience"
)

// MetricsRecorder is the subset of pkg/telemetry.Metrics the Dispatcher
// needs — narrow on purpose, matching every other optional collaborator in
// this codebase, so this package never imports pkg/telemetry directly.
type MetricsRecorder interface {
	RecordDispatch(taskType, agent, status string, durationSeconds float64)
	RecordTokens(taskType, agent string, count int)
}

// Status is a completed dispatch's terminal state (spec §4.3).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TokenEstimate is the {input, output} pair attached to every Result.
type TokenEstimate struct {
	Input  int64
	Output int64
}

// Request is dispatch's argument: `{taskType, prompt, agent?, model?}`.
type Request struct {
	TaskType string
	Prompt   string
	Agent    string
	Model    string
	Timeout  time.Duration
}

// Result is what a Handle's Result() eventually yields.
type Result struct {
	ID            string
	Status        Status
	ExitCode      int
	Output        string
	Parsed        map[string]any
	ParseError    error
	DurationMs    int64
	TokenEstimate TokenEstimate
}

// Handle is returned immediately by Dispatch; Result blocks until the
// dispatch finishes.
type Handle struct {
	ID     string
	done   chan struct{}
	result Result
	cancel context.CancelFunc
}

// Result blocks until the dispatch completes and returns its outcome. Safe
// to call more than once or from more than one goroutine.
func (h *Handle) Result() Result {
	<-h.done
	return h.result
}

// Cancel signals the in-flight dispatch to stop cooperatively.
func (h *Handle) Cancel() { h.cancel() }

// TokenUsageRecorder is the subset of the Decision Store the Dispatcher
// needs — narrow on purpose so tests can supply a fake.
type TokenUsageRecorder interface {
	AddTokenUsage(store.AddTokenUsageInput) error
}

// Config tunes a Dispatcher.
type Config struct {
	MaxConcurrency   int
	RetryCount       int
	DefaultAgent     string
	FailureThreshold float64
	ResetTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.DefaultAgent == "" {
		c.DefaultAgent = "default"
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher runs sub-agent dispatches against a set of registered
// agent.Provider implementations (spec §4.3).
type Dispatcher struct {
	cfg Config
	bus *eventbus.Bus

	runID string // pipeline run ID attached to every TokenUsage row; empty if usage isn't recorded per-run
	phase string
	usage TokenUsageRecorder

	providersMu sync.RWMutex
	providers   map[string]agent.Provider

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	sem chan struct{}

	stateMu sync.Mutex
	pending map[string]*Handle
	running map[string]*Handle

	wg sync.WaitGroup

	metrics MetricsRecorder
	tracer  trace.Tracer
}

// New constructs a Dispatcher. RegisterProvider must be called at least
// once before Dispatch is used.
func New(cfg Config, bus *eventbus.Bus, usage TokenUsageRecorder) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:       cfg,
		bus:       bus,
		usage:     usage,
		providers: make(map[string]agent.Provider),
		breakers:  make(map[string]*resilience.CircuitBreaker),
		sem:       make(chan struct{}, cfg.MaxConcurrency),
		pending:   make(map[string]*Handle),
		running:   make(map[string]*Handle),
	}
}

// WithRunContext returns a shallow copy of d whose TokenUsage rows are
// attributed to runID/phase — phase runners call this once per phase rather
// than threading run/phase through every Dispatch call.
func (d *Dispatcher) WithRunContext(runID, phase string) *Dispatcher {
	cp := *d
	cp.runID = runID
	cp.phase = phase
	return &cp
}

// WithTelemetry returns a shallow copy of d that records dispatch metrics
// and trace spans through metrics/tracer. Either may be nil to leave that
// half of telemetry unwired.
func (d *Dispatcher) WithTelemetry(metrics MetricsRecorder, tracer trace.Tracer) *Dispatcher {
	cp := *d
	cp.metrics = metrics
	cp.tracer = tracer
	return &cp
}

// RegisterProvider makes a provider available under name; "default" is the
// agent name used when a Request leaves Agent empty.
func (d *Dispatcher) RegisterProvider(name string, p agent.Provider) {
	d.providersMu.Lock()
	defer d.providersMu.Unlock()
	d.providers[name] = p
}

func (d *Dispatcher) provider(name string) (agent.Provider, bool) {
	d.providersMu.RLock()
	defer d.providersMu.RUnlock()
	p, ok := d.providers[name]
	return p, ok
}

func (d *Dispatcher) breakerFor(taskType, agentName string) *resilience.CircuitBreaker {
	key := taskType + "|" + agentName
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	cb, ok := d.breakers[key]
	if !ok {
		cb = resilience.NewCircuitBreaker(key, d.cfg.FailureThreshold, d.cfg.ResetTimeout)
		d.breakers[key] = cb
	}
	return cb
}

// Dispatch starts one sub-agent invocation and returns immediately with a
// Handle. Work is bounded by cfg.MaxConcurrency; a Request beyond that bound
// sits in getPending() until a slot frees up.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Handle {
	id := uuid.NewString()
	dctx, cancel := context.WithCancel(ctx)
	h := &Handle{ID: id, done: make(chan struct{}), cancel: cancel}

	d.stateMu.Lock()
	d.pending[id] = h
	d.stateMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		select {
		case d.sem <- struct{}{}:
		case <-dctx.Done():
			d.stateMu.Lock()
			delete(d.pending, id)
			d.stateMu.Unlock()
			h.result = Result{ID: id, Status: StatusCancelled}
			close(h.done)
			return
		}
		defer func() { <-d.sem }()

		d.stateMu.Lock()
		delete(d.pending, id)
		d.running[id] = h
		d.stateMu.Unlock()

		result := d.run(dctx, id, req)

		d.stateMu.Lock()
		delete(d.running, id)
		d.stateMu.Unlock()

		h.result = result
		close(h.done)
	}()

	return h
}

func (d *Dispatcher) run(ctx context.Context, id string, req Request) Result {
	start := time.Now()
	agentName := req.Agent
	if agentName == "" {
		agentName = d.cfg.DefaultAgent
	}

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "dispatch."+req.TaskType,
			trace.WithAttributes(attribute.String("task_type", req.TaskType), attribute.String("agent", agentName)))
		defer span.End()
	}

	if d.bus != nil {
		d.bus.Emit(eventbus.DispatchStart, eventbus.Payload{"id": id, "taskType": req.TaskType, "agent": agentName})
	}

	result := d.invoke(ctx, id, req, agentName)
	result.DurationMs = time.Since(start).Milliseconds()

	if d.usage != nil && (result.TokenEstimate.Input > 0 || result.TokenEstimate.Output > 0) {
		_ = d.usage.AddTokenUsage(store.AddTokenUsageInput{
			PipelineRunID: d.runID,
			Phase:         d.phase,
			Agent:         agentName,
			InputTokens:   result.TokenEstimate.Input,
			OutputTokens:  result.TokenEstimate.Output,
		})
	}

	if d.metrics != nil {
		d.metrics.RecordDispatch(req.TaskType, agentName, string(result.Status), time.Duration(result.DurationMs*int64(time.Millisecond)).Seconds())
		d.metrics.RecordTokens(req.TaskType, agentName, int(result.TokenEstimate.Input+result.TokenEstimate.Output))
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("status", string(result.Status)))
		if result.ParseError != nil {
			span.SetStatus(codes.Error, result.ParseError.Error())
		}
	}

	if d.bus != nil {
		d.bus.Emit(eventbus.DispatchComplete, eventbus.Payload{
			"id": id, "taskType": req.TaskType, "agent": agentName,
			"status": string(result.Status), "durationMs": result.DurationMs,
		})
	}

	return result
}

func (d *Dispatcher) invoke(ctx context.Context, id string, req Request, agentName string) Result {
	provider, ok := d.provider(agentName)
	if !ok {
		return Result{ID: id, Status: StatusFailed, ParseError: fmt.Errorf("dispatch: no provider registered for agent %q", agentName)}
	}

	breaker := d.breakerFor(req.TaskType, agentName)

	var outcome agent.Outcome
	cbErr := breaker.Call(func() error {
		backoff, err := retry.NewExponential(100 * time.Millisecond)
		if err != nil {
			return err
		}
		backoff = retry.WithMaxRetries(uint64(d.cfg.RetryCount), backoff)

		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			o, e := provider.Invoke(ctx, agent.Task{
				TaskType: req.TaskType,
				Agent:    agentName,
				Model:    req.Model,
				Prompt:   req.Prompt,
				Timeout:  req.Timeout,
			})
			outcome = o
			if e != nil {
				return retry.RetryableError(e)
			}
			return nil
		})
	})

	if cbErr != nil {
		if strings.Contains(cbErr.Error(), "circuit breaker is open") {
			return Result{ID: id, Status: StatusFailed, ParseError: errors.New("circuit open")}
		}
		return Result{ID: id, Status: StatusFailed, Output: outcome.Output, ExitCode: outcome.ExitCode, ParseError: cbErr}
	}

	if outcome.Cancelled {
		return Result{ID: id, Status: StatusCancelled, Output: outcome.Output, ExitCode: outcome.ExitCode}
	}

	if outcome.ExitCode > 0 {
		return Result{
			ID: id, Status: StatusFailed, Output: outcome.Output, ExitCode: outcome.ExitCode,
			ParseError:    fmt.Errorf("dispatch: agent exited with code %d", outcome.ExitCode),
			TokenEstimate: tokenEstimate(req.Prompt, outcome),
		}
	}

	parsed, parseErr := extractJSON(outcome.Output)
	est := tokenEstimate(req.Prompt, outcome)
	if parseErr != nil {
		return Result{ID: id, Status: StatusFailed, Output: outcome.Output, ExitCode: outcome.ExitCode, ParseError: parseErr, TokenEstimate: est}
	}

	validated, validationErr := validateResult(req.TaskType, parsed)
	if validationErr != nil {
		return Result{
			ID: id, Status: StatusFailed, Output: outcome.Output, ExitCode: outcome.ExitCode,
			Parsed: parsed, ParseError: validationErr, TokenEstimate: est,
		}
	}

	return Result{
		ID: id, Status: StatusCompleted, Output: outcome.Output, ExitCode: outcome.ExitCode,
		Parsed: validated, TokenEstimate: est,
	}
}

// tokenEstimate prefers a provider's reported usage (e.g. anthropicapi),
// falling back to the prompt assembler's ceil(byteLength/4) estimator when
// a provider has no token accounting of its own (e.g. subprocess).
func tokenEstimate(prompt string, outcome agent.Outcome) TokenEstimate {
	if outcome.InputTokens > 0 || outcome.OutputTokens > 0 {
		return TokenEstimate{Input: outcome.InputTokens, Output: outcome.OutputTokens}
	}
	return TokenEstimate{
		Input:  int64((len(prompt) + 3) / 4),
		Output: int64((len(outcome.Output) + 3) / 4),
	}
}

// GetPending returns the IDs of dispatches still waiting for a concurrency
// slot.
func (d *Dispatcher) GetPending() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	return ids
}

// GetRunning returns the IDs of dispatches currently executing.
func (d *Dispatcher) GetRunning() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every pending and running dispatch and waits for their
// goroutines to finish. Cancellation is cooperative: providers observe
// ctx.Done() and are responsible for signalling and then force-killing
// their own child processes within a bounded grace period.
func (d *Dispatcher) Shutdown() {
	d.stateMu.Lock()
	handles := make([]*Handle, 0, len(d.pending)+len(d.running))
	for _, h := range d.pending {
		handles = append(handles, h)
	}
	for _, h := range d.running {
		handles = append(handles, h)
	}
	d.stateMu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	d.wg.Wait()
}
