package xbreaker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// tracerName 追踪器名称
	tracerName = "xbreaker"
)

// Span 操作名称
const (
	spanNameDo      = "xbreaker.Do"
	spanNameExecute = "xbreaker.Execute"
)

// Span 属性名称
const (
	attrName  = "xbreaker.name"
	attrState = "xbreaker.state"
)

// breakerTracer 包装 trace.Tracer，统一 span 的命名与属性。
type breakerTracer struct {
	tracer trace.Tracer
}

// newBreakerTracer 创建 tracer。
// 如果配置了 TracerProvider 则使用它，否则使用全局默认（可能是 noop）。
func newBreakerTracer(tp trace.TracerProvider) breakerTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return breakerTracer{tracer: tp.Tracer(tracerName)}
}

// start 创建 span，携带熔断器名称与进入时的状态。
func (bt breakerTracer) start(ctx context.Context, spanName, name string, state State) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String(attrName, name),
		attribute.String(attrState, string(state)),
	))
}

// setSpanError 设置 span 错误状态
func setSpanError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
