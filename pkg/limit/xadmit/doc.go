// Package xadmit 提供规则驱动的分布式准入编排。
//
// 编排器把一次请求的调用方上下文（用户、IP、租户、API key、层级、
// 端点）映射到最高优先级的匹配规则，按层级倍率缩放限额，构造计数键，
// 分发给规则指定的限流算法（pkg/limit/xalgo），最终产出携带标准
// X-RateLimit-* 响应头的决策。计数状态全部存放在注入的
// pkg/store/xstore 后端中，多实例共享同一后端即共享限流视图。
//
// 快速开始:
//
//	store, _ := xstore.NewMemory()
//	limiter, err := xadmit.New(store,
//	    xadmit.WithDefaultLimits(xadmit.RuleLimits{Limit: 100, Window: time.Minute}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	_ = limiter.AddRule(xadmit.Rule{
//	    ID:     "api-heavy",
//	    Match:  xadmit.MatchSpec{PathPattern: "/api/v1/reports/*"},
//	    Limits: xadmit.RuleLimits{Limit: 10, Window: time.Minute},
//	    Scope:  []xadmit.ScopeDim{xadmit.ScopeUser},
//	})
//
//	rc := xadmit.RequestContext{}.
//	    WithUserID("u-1").
//	    WithPath("/api/v1/reports/daily").
//	    WithMethod("GET")
//
//	d, err := limiter.Consume(ctx, rc)
//	if err != nil {
//	    // 存储故障且策略为 FailClosed，或参数错误
//	}
//	if !d.Allowed() {
//	    d.SetHeaders(w.Header())
//	    w.WriteHeader(http.StatusTooManyRequests)
//	    return
//	}
//
// 存储故障的处理由 FailurePolicy 决定：FailOpen（默认）放行并在决策上
// 置 Degraded 标记，FailClosed 返回包装了 xstore.ErrUnavailable 的错误。
package xadmit
