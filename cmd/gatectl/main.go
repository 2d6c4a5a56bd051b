// gatectl 是 gatekit 准入控制组件的运维命令行工具。
//
// 用法:
//
//	gatectl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config   准入规则配置文件路径 (.yaml/.yml/.json)
//	    --redis    Redis 后端地址 (host:port)，缺省使用进程内内存后端
//	-t, --timeout  命令超时时间 (默认: 10s, 上限: 5m)
//
// 命令:
//
//	check          按配置规则对一个请求上下文执行准入判定
//	quota          查看实体的配额用量
//	breaker        查看/复位熔断器状态
//	help           显示帮助信息
//
// 后端说明:
//
//	内存后端的计数与状态只在本次进程内有效，适合演练规则配置；
//	巡检线上共享状态（熔断器、配额计数）需要 --redis 指向业务实际使用的实例。
//
// 退出码:
//
//	0: 命令执行成功（check: 全部放行; breaker: 熔断器关闭或半开）
//	1: 命令执行失败、任一判定被拒绝、配额超限或熔断器打开
//	2: 参数错误（缺少配置文件、未知格式、缺少必需参数等）
//
// 示例:
//
//	gatectl -c rules.yaml check --user alice --path /v1/search -n 5
//	gatectl -c rules.yaml check --ip 203.0.113.7 --dry-run
//	gatectl -c rules.yaml --redis 127.0.0.1:6379 quota --tier pro user:alice
//	gatectl --redis 127.0.0.1:6379 breaker payment-api
//	gatectl --redis 127.0.0.1:6379 breaker payment-api --reset
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// defaultTimeout 默认超时时间。
const defaultTimeout = 10 * time.Second

// maxTimeout 超时上限，防止脚本误传超长等待。
const maxTimeout = 5 * time.Minute

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "gatectl",
		Usage:   "gatekit 准入控制运维工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "准入规则配置文件路径 (.yaml/.yml/.json)",
			},
			&cli.StringFlag{
				Name:  "redis",
				Usage: "Redis 后端地址 (host:port)，缺省使用内存后端",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "命令超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		Authors: []any{
			"GateKit Team",
		},
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，
		// 由 run() 统一处理退出码映射，确保与文档退出码契约一致。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			// ExitCoder 错误（如未知命令）的消息需在此输出，
			// 替代 HandleExitCoder 的默认 os.Exit 行为。
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
		Description: `gatectl 直接驱动 gatekit 的限流、配额与熔断组件，
用于在发布前演练规则配置、在线上巡检共享状态。

主要命令:
  check               对一个请求上下文执行准入判定
    --user, --ip, --tenant, --api-key, --tier, --path, --method
                      请求上下文各维度，均可为空
    --internal        标记为内部调用（旁路）
    -n, --count       连续判定次数
    --cost            每次判定消耗的配额数
    --dry-run         只读探测，不消耗配额

  quota               查看实体的配额用量
    --tier            使用哪个层级的配额定义（必填）
    --cost            判定用成本（默认 1）

  breaker             查看熔断器共享状态
    --reset           强制复位回 closed`,
	}
}

func run() int {
	app := createApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandler(cancel)

	if err := app.Run(ctx, os.Args); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		// CLI 框架产生的参数错误（如未知 flag、未知命令）也返回退出码 2，
		// 与文档契约"参数错误 → 退出码 2"保持一致。
		if isCLIUsageError(err) {
			// ExitErrHandler 或 flag 解析器已向 stderr 输出错误详情，此处仅设置退出码
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}

	return 0
}
