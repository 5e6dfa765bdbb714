package observer

import (
	"context"
	"time"

	oasis "github.com/nevindra/aicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTask wraps a Task's Run call with an OTEL span, metrics, and a
// structured log covering the whole Step the call produces.
type ObservedTask struct {
	inner *oasis.Task
	inst  *Instruments
}

// WrapTask returns an instrumented view over task.
func WrapTask(task *oasis.Task, inst *Instruments) *ObservedTask {
	return &ObservedTask{inner: task, inst: inst}
}

// Run wraps Task.Run, emitting a task.run span that is the parent of every
// round's request/response/dispatch child span the Provider and Dispatcher
// create via ctx propagation.
func (o *ObservedTask) Run(ctx context.Context) (*oasis.Step, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "task.run", trace.WithAttributes(
		AttrTaskID.String(o.inner.ID),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("task.started")

	step, err := o.inner.Run(ctx)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.AddEvent("task.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.AddEvent("task.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("task.completed")
	}

	summary := step.Summary()
	span.SetAttributes(
		AttrTaskStatus.String(status),
		AttrTokensInput.Int(summary.InputTokens),
		AttrTokensOutput.Int(summary.OutputTokens),
		AttrTaskRounds.Int(summary.Rounds),
	)

	attrs := metric.WithAttributes(
		AttrTaskID.String(o.inner.ID),
		attribute.String("status", status),
	)
	o.inst.TaskExecutions.Add(ctx, 1, attrs)
	o.inst.TaskDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrTaskID.String(o.inner.ID),
	))

	var rec oasislog.Record
	rec.SetSeverity(oasislog.SeverityInfo)
	rec.SetBody(oasislog.StringValue("task run completed"))
	rec.AddAttributes(
		oasislog.String("task.id", o.inner.ID),
		oasislog.String("task.status", status),
		oasislog.Int("task.rounds", summary.Rounds),
		oasislog.Int("tokens.input", summary.InputTokens),
		oasislog.Int("tokens.output", summary.OutputTokens),
		oasislog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return step, err
}
