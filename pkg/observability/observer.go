// Package observability turns mcpmgr events into OpenTelemetry metrics and
// spans.
package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

// Connect results recorded on toolhub.server.connects.
const (
	ResultConnected = "connected"
	ResultFailed    = "failed"
	ResultLost      = "lost"
)

// Observer records manager activity. A nil tracer disables spans.
type Observer struct {
	tracer trace.Tracer

	connects   metric.Int64Counter
	executions metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram

	mu   sync.Mutex
	mgr  *mcpmgr.Manager
	subs map[mcpmgr.EventName]mcpmgr.Subscription
}

// NewObserver creates the instruments on meter.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	connects, err := meter.Int64Counter(
		"toolhub.server.connects",
		metric.WithDescription("Server connection outcomes"),
	)
	if err != nil {
		return nil, err
	}
	executions, err := meter.Int64Counter(
		"toolhub.tool.executions",
		metric.WithDescription("Number of tool executions"),
	)
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter(
		"toolhub.errors",
		metric.WithDescription("Errors reported by the manager, by kind"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"toolhub.tool.duration",
		metric.WithDescription("Tool execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &Observer{
		tracer:     tracer,
		connects:   connects,
		executions: executions,
		errors:     errs,
		duration:   duration,
	}, nil
}

// Attach subscribes the observer to m. Attaching again moves the
// subscription.
func (o *Observer) Attach(m *mcpmgr.Manager) {
	o.Detach()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mgr = m
	o.subs = make(map[mcpmgr.EventName]mcpmgr.Subscription)
	for _, name := range []mcpmgr.EventName{
		mcpmgr.EventServerConnected,
		mcpmgr.EventServerDisconnected,
		mcpmgr.EventToolExecuted,
		mcpmgr.EventError,
	} {
		o.subs[name] = m.On(name, o.Handle)
	}
}

// Detach removes the observer's subscriptions.
func (o *Observer) Detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mgr == nil {
		return
	}
	for name, sub := range o.subs {
		o.mgr.Off(name, sub)
	}
	o.mgr = nil
	o.subs = nil
}

// Handle records one event. It never fails.
func (o *Observer) Handle(ctx context.Context, ev mcpmgr.Event) error {
	if o == nil {
		return nil
	}
	switch ev.Name {
	case mcpmgr.EventServerConnected:
		o.recordConnect(ctx, ev.Server, ResultConnected)
	case mcpmgr.EventServerDisconnected:
		if ev.Err != nil {
			o.recordConnect(ctx, ev.Server, ResultLost)
		}
	case mcpmgr.EventToolExecuted:
		o.recordExecution(ctx, ev)
	case mcpmgr.EventError:
		o.recordError(ctx, ev)
	}
	return nil
}

func (o *Observer) recordConnect(ctx context.Context, server, result string) {
	o.connects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("result", result),
	))
}

func (o *Observer) recordExecution(ctx context.Context, ev mcpmgr.Event) {
	success := ev.Result != nil && ev.Result.Success
	attrs := []attribute.KeyValue{
		attribute.String("tool", ev.ToolID),
		attribute.String("server", ev.Server),
		attribute.Bool("success", success),
	}
	options := metric.WithAttributes(attrs...)
	o.executions.Add(ctx, 1, options)
	o.duration.Record(ctx, float64(ev.Duration)/float64(time.Millisecond), options)

	if o.tracer == nil {
		return
	}
	end := ev.Time
	if end.IsZero() {
		end = time.Now()
	}
	spanAttrs := append(attrs,
		attribute.String("tool.name", ev.ToolName),
		attribute.String("execution_id", ev.ExecutionID),
	)
	_, span := o.tracer.Start(ctx, "toolhub.tool.execute",
		trace.WithTimestamp(end.Add(-ev.Duration)),
		trace.WithAttributes(spanAttrs...),
	)
	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		msg := ""
		if ev.Result != nil {
			msg = ev.Result.Error
		}
		span.SetStatus(codes.Error, msg)
	}
	span.End(trace.WithTimestamp(end))
}

func (o *Observer) recordError(ctx context.Context, ev mcpmgr.Event) {
	kind := string(mcpmgr.KindOf(ev.Err))
	if kind == "" {
		kind = "unknown"
	}
	o.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("server", ev.Server),
	))
	// Connect failures carry the number of attempts spent.
	var merr *mcpmgr.Error
	if errors.As(ev.Err, &merr) && merr.Kind == mcpmgr.KindConnection && merr.Attempts > 0 {
		o.recordConnect(ctx, ev.Server, ResultFailed)
	}
}
