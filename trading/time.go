package trading

import (
	"fmt"
	"time"
)

// CST 中国时区，行情日期均按此时区解析
var CST = time.FixedZone("CST", 8*3600)

const DateLayout = "2006-01-02"

// TimeRange 时间范围
type TimeRange struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// A股交易时间段
var stockTradingHours = []TimeRange{
	{9, 30, 11, 30}, // 上午 9:30-11:30
	{13, 0, 15, 0},  // 下午 13:00-15:00
}

// ParseDate 解析 2006-01-02 或 20060102 格式的日期
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{DateLayout, "20060102", "2006/01/02"} {
		if t, err := time.ParseInLocation(layout, s, CST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析日期: %q", s)
}

// IsWeekday 周一到周五（不含节假日）
func IsWeekday(t time.Time) bool {
	wd := t.In(CST).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsStockTradingTime 判断当前是否为A股交易时间
func IsStockTradingTime() bool {
	return IsStockTradingTimeAt(time.Now())
}

// IsStockTradingTimeAt 判断指定时间是否为A股交易时间
func IsStockTradingTimeAt(t time.Time) bool {
	t = t.In(CST)
	if !IsWeekday(t) {
		return false
	}
	return isInTimeRanges(t, stockTradingHours)
}

// isInTimeRanges 检查时间是否在指定的时间范围内
func isInTimeRanges(t time.Time, ranges []TimeRange) bool {
	current := t.Hour()*60 + t.Minute()
	for _, r := range ranges {
		start := r.StartHour*60 + r.StartMinute
		end := r.EndHour*60 + r.EndMinute
		if current >= start && current <= end {
			return true
		}
	}
	return false
}
