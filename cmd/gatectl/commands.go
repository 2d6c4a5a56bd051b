package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/gatekit/pkg/config/xconf"
	"github.com/omeyang/gatekit/pkg/limit/xadmit"
	"github.com/omeyang/gatekit/pkg/quota/xquota"
	"github.com/omeyang/gatekit/pkg/resilience/xbreaker"
	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// exitError 表示需要非零退出码但已完成输出的场景。
// 命令内部已完成所有输出，run() 只取退出码，不再打印消息。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 表示调用方式错误（缺少参数、非法取值），run() 映射为退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// isCLIUsageError 判定错误是否来自 CLI 解析层（未知 flag、未知命令等）。
// urfave/cli 未给这类错误提供可断言的类型，按消息特征识别。
func isCLIUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"flag provided but not defined",
		"invalid value",
		"No help topic for",
		"unknown command",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createCheckCommand(),
		createQuotaCommand(),
		createBreakerCommand(),
	}
}

// createCheckCommand 创建 check 子命令（准入判定演练）。
func createCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "按配置规则对一个请求上下文执行准入判定",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "用户标识"},
			&cli.StringFlag{Name: "ip", Usage: "调用方地址"},
			&cli.StringFlag{Name: "tenant", Usage: "租户标识"},
			&cli.StringFlag{Name: "api-key", Usage: "API key"},
			&cli.StringFlag{Name: "tier", Usage: "层级名称"},
			&cli.StringFlag{Name: "path", Usage: "请求路径"},
			&cli.StringFlag{Name: "method", Usage: "HTTP 方法", Value: "GET"},
			&cli.BoolFlag{Name: "internal", Usage: "标记为内部调用（旁路）"},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "连续判定次数",
				Value:   1,
			},
			&cli.IntFlag{Name: "cost", Usage: "每次判定消耗数（--dry-run 时忽略）", Value: 1},
			&cli.BoolFlag{Name: "dry-run", Usage: "只读探测，不消耗配额"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, clampTimeout(cmd.Duration("timeout")))
			defer cancel()

			store, cleanup, err := newStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			rc := xadmit.RequestContext{
				UserID:   cmd.String("user"),
				IP:       cmd.String("ip"),
				TenantID: cmd.String("tenant"),
				APIKey:   cmd.String("api-key"),
				Tier:     cmd.String("tier"),
				Path:     cmd.String("path"),
				Method:   cmd.String("method"),
				Internal: cmd.Bool("internal"),
			}
			return cmdCheck(ctx, store, cfg, rc,
				cmd.Int("count"), int64(cmd.Int("cost")), cmd.Bool("dry-run"))
		},
	}
}

// createQuotaCommand 创建 quota 子命令（配额用量巡检）。
func createQuotaCommand() *cli.Command {
	return &cli.Command{
		Name:      "quota",
		Usage:     "查看实体的配额用量",
		ArgsUsage: "<entity> [quota]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tier", Usage: "使用哪个层级的配额定义"},
			&cli.IntFlag{Name: "cost", Usage: "判定用成本", Value: 1},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			entity := cmd.Args().First()
			if entity == "" {
				return &usageError{msg: "quota 命令需要指定实体标识"}
			}
			tierName := cmd.String("tier")
			if tierName == "" {
				return &usageError{msg: "quota 命令需要 --tier 指定配额定义来源"}
			}

			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, clampTimeout(cmd.Duration("timeout")))
			defer cancel()

			store, cleanup, err := newStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			return cmdQuota(ctx, store, cfg, tierName, entity, cmd.Args().Get(1), int64(cmd.Int("cost")))
		},
	}
}

// createBreakerCommand 创建 breaker 子命令（熔断器巡检/复位）。
func createBreakerCommand() *cli.Command {
	return &cli.Command{
		Name:      "breaker",
		Usage:     "查看熔断器共享状态",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "reset", Usage: "强制复位回 closed"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return &usageError{msg: "breaker 命令需要指定熔断器名称"}
			}

			ctx, cancel := context.WithTimeout(ctx, clampTimeout(cmd.Duration("timeout")))
			defer cancel()

			store, cleanup, err := newStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			return cmdBreaker(ctx, store, name, cmd.Bool("reset"))
		},
	}
}

// cmdCheck 连续执行 count 次准入判定并打印每次结果。
// 设计决策: 任一拒绝以退出码 1 结束（通过 exitError），
// 脚本可直接用 gatectl check 探测限额余量。
func cmdCheck(ctx context.Context, store xstore.Store, cfg *xadmit.Config,
	rc xadmit.RequestContext, count int, cost int64, dryRun bool) error {
	if count <= 0 {
		return &usageError{msg: fmt.Sprintf("--count 必须为正数: %d", count)}
	}
	if cost <= 0 {
		return &usageError{msg: fmt.Sprintf("--cost 必须为正数: %d", cost)}
	}

	limiter, err := xadmit.NewFromConfig(store, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = limiter.Close() }()

	denied := 0
	var last *xadmit.Decision
	for i := 1; i <= count; i++ {
		var d *xadmit.Decision
		if dryRun {
			d, err = limiter.Check(ctx, rc)
		} else {
			d, err = limiter.ConsumeN(ctx, rc, cost)
		}
		if err != nil {
			return err
		}
		fmt.Println(formatDecision(i, d))
		if !d.Allowed() {
			denied++
		}
		last = d
	}

	if hdrs := formatHeaders(last.Headers()); len(hdrs) > 0 {
		fmt.Println("响应头:")
		for _, line := range hdrs {
			fmt.Println(line)
		}
	}

	if denied > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// cmdQuota 展示实体在指定层级下各命名配额的用量。
// quotaName 为空时遍历层级的全部配额；任一配额超限以退出码 1 结束。
func cmdQuota(ctx context.Context, store xstore.Store, cfg *xadmit.Config,
	tierName, entity, quotaName string, cost int64) error {
	if cost <= 0 {
		return &usageError{msg: fmt.Sprintf("--cost 必须为正数: %d", cost)}
	}

	var tier *xadmit.Tier
	for i := range cfg.Tiers {
		if cfg.Tiers[i].Name == tierName {
			tier = &cfg.Tiers[i]
			break
		}
	}
	if tier == nil {
		return fmt.Errorf("配置中不存在层级 %q", tierName)
	}
	if len(tier.Quotas) == 0 {
		return fmt.Errorf("层级 %q 未定义配额", tierName)
	}

	mgr, err := xquota.New(store)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(tier.Quotas))
	for name, def := range tier.Quotas {
		if err := mgr.SetDefinition(name, def); err != nil {
			return fmt.Errorf("配额 %q 定义非法: %w", name, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if quotaName != "" {
		if _, ok := tier.Quotas[quotaName]; !ok {
			return fmt.Errorf("层级 %q 未定义配额 %q", tierName, quotaName)
		}
		names = []string{quotaName}
	}

	exceeded := false
	for _, name := range names {
		u, err := mgr.Check(ctx, entity, name, cost)
		if err != nil {
			return err
		}
		fmt.Printf("配额 %s (entity=%s tier=%s)\n", name, entity, tierName)
		for _, line := range formatUsage(u) {
			fmt.Println(line)
		}
		bonus, err := mgr.Bonus(ctx, entity, name)
		if err != nil {
			return err
		}
		if bonus > 0 {
			fmt.Printf("  奖励余量: %d\n", bonus)
		}
		if !u.Allowed {
			exceeded = true
		}
	}

	if exceeded {
		return &exitError{code: 1}
	}
	return nil
}

// cmdBreaker 读取熔断器的共享状态，或按 --reset 强制复位。
// 设计决策: 打开状态以退出码 1 结束（通过 exitError），探针可直接判活。
func cmdBreaker(ctx context.Context, store xstore.Store, name string, reset bool) error {
	b, err := xbreaker.New(name, store)
	if err != nil {
		return err
	}

	if reset {
		if err := b.Reset(ctx); err != nil {
			return fmt.Errorf("复位失败: %w", err)
		}
		fmt.Printf("熔断器 %s 已复位为 closed\n", name)
		return nil
	}

	if err := b.Refresh(ctx); err != nil {
		return fmt.Errorf("读取共享状态失败: %w", err)
	}

	c := b.Counts()
	fmt.Printf("熔断器 %s\n", name)
	fmt.Printf("  状态: %s\n", c.State)
	fmt.Printf("  失败: %d  成功: %d\n", c.Failures, c.Successes)
	fmt.Printf("  最近失败: %s\n", formatTime(c.LastFailure))
	fmt.Printf("  最近变更: %s\n", formatTime(c.LastChange))

	if c.State == xbreaker.StateOpen {
		return &exitError{code: 1}
	}
	return nil
}

// newStore 按 --redis 选择后端。返回的 cleanup 负责关闭存储与底层客户端。
func newStore(ctx context.Context, redisAddr string) (xstore.Store, func(), error) {
	if redisAddr == "" {
		store, err := xstore.NewMemory()
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close(context.Background()) }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("连接 Redis %s 失败: %w", redisAddr, err)
	}

	store, err := xstore.NewRedis(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	// 客户端由 CLI 创建，也由 CLI 关闭
	cleanup := func() {
		_ = store.Close(context.Background())
		_ = client.Close()
	}
	return store, cleanup, nil
}

// loadConfig 读取并解析准入配置，格式按扩展名识别。
func loadConfig(path string) (*xadmit.Config, error) {
	if path == "" {
		return nil, &usageError{msg: "缺少配置文件，请使用 --config 指定"}
	}
	format, err := configFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	cfg, err := xadmit.ParseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// configFormat 按扩展名识别配置格式。
func configFormat(path string) (xconf.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return xconf.FormatYAML, nil
	case ".json":
		return xconf.FormatJSON, nil
	default:
		return "", &usageError{msg: fmt.Sprintf("无法识别配置格式（支持 .yaml/.yml/.json）: %s", path)}
	}
}

// clampTimeout 将超时约束到 (0, maxTimeout] 区间，非法值回退默认。
func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

// formatDecision 把一次判定渲染为单行摘要。
func formatDecision(seq int, d *xadmit.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d ", seq)

	switch {
	case d.Bypassed:
		b.WriteString("旁路")
		return b.String()
	case d.Degraded:
		b.WriteString("降级放行")
	case d.Allowed():
		b.WriteString("放行")
	default:
		b.WriteString("拒绝")
	}

	if d.Rule != "" {
		fmt.Fprintf(&b, " rule=%s", d.Rule)
	}
	if d.Tier != "" {
		fmt.Fprintf(&b, " tier=%s", d.Tier)
	}
	fmt.Fprintf(&b, " key=%s limit=%d remaining=%d", d.Key, d.Limit, d.Result.Remaining)
	if !d.Result.ResetAt.IsZero() {
		fmt.Fprintf(&b, " reset=%s", d.Result.ResetAt.UTC().Format(time.RFC3339))
	}
	if !d.Allowed() {
		fmt.Fprintf(&b, " retry_after=%s", d.RetryAfter)
		if d.Action != nil {
			fmt.Fprintf(&b, " action=%s", d.Action.Kind)
		}
	}
	return b.String()
}

// formatHeaders 将响应头渲染为按键名排序的缩进行。
func formatHeaders(h map[string]string) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", k, h[k]))
	}
	return lines
}

// periodOrder 配额周期的展示顺序。
var periodOrder = []xquota.Period{xquota.PeriodDaily, xquota.PeriodWeekly, xquota.PeriodMonthly}

// formatUsage 将配额用量渲染为逐周期的缩进行，末行给出结论。
func formatUsage(u *xquota.Usage) []string {
	lines := make([]string, 0, len(u.Periods)+1)
	for _, p := range periodOrder {
		pu, ok := u.Periods[p]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %-7s 已用 %d / %d  剩余 %d  重置 %s",
			p, pu.Used, pu.Limit, pu.Remaining, pu.Reset.UTC().Format(time.RFC3339)))
	}

	if u.Allowed {
		lines = append(lines, "  结论: 放行")
		return lines
	}
	parts := make([]string, len(u.ExceededPeriods))
	for i, p := range u.ExceededPeriods {
		parts[i] = string(p)
	}
	lines = append(lines, fmt.Sprintf("  结论: 超限 (%s)", strings.Join(parts, ", ")))
	return lines
}

// formatTime 统一时间展示，零值输出 "-"。
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// setupSignalHandler 设置信号处理。
// 设计决策: 第一次信号优雅取消，第二次信号强制退出（退出码 130 = 128 + SIGINT）。
// 当命令阻塞时，用户可通过再次 Ctrl+C 强制退出。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel() // 第一次信号: 优雅取消

		<-sigCh
		signal.Stop(sigCh) // 回收订阅
		os.Exit(130)       // 第二次信号: 强制退出
	}()
}
