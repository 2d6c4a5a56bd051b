package xadmit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 设计决策: 指标前缀使用 "xadmit.*"，与 Meter scope name 保持一致，
// 避免与 scope 名称产生冗余嵌套。统一命名空间应在采集端处理。
const (
	instrumentationVersion = "1.0.0"

	// metricNameRequestsTotal 准入判定总次数
	metricNameRequestsTotal = "xadmit.requests.total"
	// metricNameDeniedTotal 拒绝次数
	metricNameDeniedTotal = "xadmit.denied.total"
	// metricNameDegradedTotal 降级放行次数
	metricNameDegradedTotal = "xadmit.degraded.total"
	// metricNameCheckDuration 单次判定耗时直方图
	metricNameCheckDuration = "xadmit.check.duration"

	// attrRule 命中的规则 ID（基数受配置约束）
	attrRule = "xadmit.rule"
	// attrAllowed 是否放行
	attrAllowed = "xadmit.allowed"
)

// durationBuckets 判定耗时直方图的桶边界
var durationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0}

// admitMetrics 准入指标收集器。nil 接收者安全，表示不收集。
type admitMetrics struct {
	requestsTotal metric.Int64Counter
	deniedTotal   metric.Int64Counter
	degradedTotal metric.Int64Counter
	checkDuration metric.Float64Histogram
}

// newAdmitMetrics 创建指标收集器。
// meterProvider 为 nil 时返回 (nil, nil)，不收集指标。
func newAdmitMetrics(mp metric.MeterProvider) (*admitMetrics, error) {
	if mp == nil {
		return nil, nil
	}

	meter := mp.Meter("xadmit",
		metric.WithInstrumentationVersion(instrumentationVersion),
	)

	m := &admitMetrics{}
	var err error

	if m.requestsTotal, err = meter.Int64Counter(metricNameRequestsTotal,
		metric.WithDescription("准入判定总次数"), metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.deniedTotal, err = meter.Int64Counter(metricNameDeniedTotal,
		metric.WithDescription("准入拒绝次数"), metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.degradedTotal, err = meter.Int64Counter(metricNameDegradedTotal,
		metric.WithDescription("存储故障降级放行次数"), metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.checkDuration, err = meter.Float64Histogram(metricNameCheckDuration,
		metric.WithDescription("单次准入判定耗时"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, err
	}
	return m, nil
}

// record 记录一次判定结果
func (m *admitMetrics) record(ctx context.Context, d *Decision, elapsed time.Duration) {
	if m == nil {
		return
	}

	// ctx 取消不应丢指标
	mctx := context.WithoutCancel(ctx)

	attrs := metric.WithAttributes(
		attribute.String(attrRule, d.Rule),
		attribute.Bool(attrAllowed, d.Result.Allowed),
	)
	m.requestsTotal.Add(mctx, 1, attrs)
	m.checkDuration.Record(mctx, elapsed.Seconds(), attrs)

	ruleAttr := metric.WithAttributes(attribute.String(attrRule, d.Rule))
	if !d.Result.Allowed {
		m.deniedTotal.Add(mctx, 1, ruleAttr)
	}
	if d.Degraded {
		m.degradedTotal.Add(mctx, 1, ruleAttr)
	}
}
