package xquota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodStart(t *testing.T) {
	// 2026-08-21 周五
	friday := time.Date(2026, 8, 21, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		period Period
		now    time.Time
		want   time.Time
	}{
		{"daily midday", PeriodDaily, friday,
			time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)},
		{"daily exactly midnight", PeriodDaily,
			time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)},
		{"weekly from friday", PeriodWeekly, friday,
			time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)},
		{"weekly from sunday", PeriodWeekly,
			time.Date(2026, 8, 23, 23, 0, 0, 0, time.UTC),
			time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)},
		{"weekly from monday itself", PeriodWeekly,
			time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)},
		{"monthly", PeriodMonthly, friday,
			time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{"monthly from first", PeriodMonthly,
			time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.period.start(tt.now))
		})
	}
}

func TestPeriodNext(t *testing.T) {
	friday := time.Date(2026, 8, 21, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC), PeriodDaily.next(friday))
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), PeriodWeekly.next(friday))
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), PeriodMonthly.next(friday))

	// 正好在重置时刻：下一次重置是再下一个周期
	midnight := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC), PeriodDaily.next(midnight))

	// 跨年
	dec := time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), PeriodMonthly.next(dec))
}

func TestPeriodSeg(t *testing.T) {
	friday := time.Date(2026, 8, 21, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, "d:2026-08-21", PeriodDaily.seg(friday))
	assert.Equal(t, "w:2026-08-17", PeriodWeekly.seg(friday))
	assert.Equal(t, "m:2026-08", PeriodMonthly.seg(friday))
}

func TestActiveWindowsOrder(t *testing.T) {
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	ws := activeWindows(Definition{Daily: 1, Weekly: 2, Monthly: 3}, now)
	assert.Len(t, ws, 3)
	assert.Equal(t, PeriodDaily, ws[0].period)
	assert.Equal(t, PeriodWeekly, ws[1].period)
	assert.Equal(t, PeriodMonthly, ws[2].period)

	// 只配置部分周期
	ws = activeWindows(Definition{Weekly: 2}, now)
	assert.Len(t, ws, 1)
	assert.Equal(t, PeriodWeekly, ws[0].period)
	assert.Equal(t, int64(2), ws[0].limit)
}
