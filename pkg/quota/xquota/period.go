package xquota

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// =============================================================================
// 日历周期
// =============================================================================

// Period 是配额的日历周期。
type Period string

const (
	// PeriodDaily 每日周期，UTC 零点重置。
	PeriodDaily Period = "daily"

	// PeriodWeekly 每周周期，UTC 周一零点重置。
	PeriodWeekly Period = "weekly"

	// PeriodMonthly 每月周期，UTC 每月一日零点重置。
	PeriodMonthly Period = "monthly"
)

// 周期重置时刻由标准 cron 表达式定义。
// Next 在输入时间所在时区求值，调用方统一传 UTC。
var (
	dailySchedule   = mustSchedule("0 0 * * *")
	weeklySchedule  = mustSchedule("0 0 * * 1")
	monthlySchedule = mustSchedule("0 0 1 * *")
)

func mustSchedule(spec string) cron.Schedule {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		panic(fmt.Sprintf("xquota: bad cron spec %q: %v", spec, err))
	}
	return s
}

func (p Period) valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// start 返回 now 所处周期窗口的起点。now 必须是 UTC。
func (p Period) start(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodWeekly:
		// 回退到本周一
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// next 返回 now 之后最近的一次周期重置时刻。now 必须是 UTC。
func (p Period) next(now time.Time) time.Time {
	switch p {
	case PeriodWeekly:
		return weeklySchedule.Next(now)
	case PeriodMonthly:
		return monthlySchedule.Next(now)
	default:
		return dailySchedule.Next(now)
	}
}

// seg 返回周期计数器的 key 段，内嵌窗口起点，周期切换时自然轮转。
func (p Period) seg(now time.Time) string {
	start := p.start(now)
	switch p {
	case PeriodWeekly:
		return "w:" + start.Format("2006-01-02")
	case PeriodMonthly:
		return "m:" + start.Format("2006-01")
	default:
		return "d:" + start.Format("2006-01-02")
	}
}

// =============================================================================
// 周期窗口快照
// =============================================================================

// periodWindow 是某个周期在当前时刻的快照。
type periodWindow struct {
	period Period
	limit  int64
	reset  time.Time
	seg    string
}

// activeWindows 返回定义中设置了上限的周期窗口，
// 固定按 daily、weekly、monthly 顺序排列。
func activeWindows(def Definition, now time.Time) []periodWindow {
	ws := make([]periodWindow, 0, 3)
	if def.Daily > 0 {
		ws = append(ws, periodWindow{
			period: PeriodDaily,
			limit:  def.Daily,
			reset:  PeriodDaily.next(now),
			seg:    PeriodDaily.seg(now),
		})
	}
	if def.Weekly > 0 {
		ws = append(ws, periodWindow{
			period: PeriodWeekly,
			limit:  def.Weekly,
			reset:  PeriodWeekly.next(now),
			seg:    PeriodWeekly.seg(now),
		})
	}
	if def.Monthly > 0 {
		ws = append(ws, periodWindow{
			period: PeriodMonthly,
			limit:  def.Monthly,
			reset:  PeriodMonthly.next(now),
			seg:    PeriodMonthly.seg(now),
		})
	}
	return ws
}
