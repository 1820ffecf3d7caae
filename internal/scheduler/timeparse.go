package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimeOfDay parses user-entered schedule times. Both H:MM and H.MM
// separators are accepted, with or without a leading zero. Error text is
// user-facing.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("时间不能为空，请使用 时:分 格式，例如 0:10")
	}

	sep := ":"
	if !strings.Contains(s, ":") {
		if !strings.Contains(s, ".") {
			return 0, 0, fmt.Errorf("时间格式错误，请使用 时:分 格式，例如 0:10")
		}
		sep = "."
	}

	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("时间格式错误，请使用 时:分 格式，例如 0:10")
	}

	hour, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("小时必须是数字")
	}
	minute, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("分钟必须是数字")
	}

	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("小时必须在 0-23 之间")
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("分钟必须在 0-59 之间")
	}
	return hour, minute, nil
}

// MakeTaskID builds the deterministic task identifier, e.g. "123_Acck_0010".
// Re-adding the same (user, site, time) yields the same ID so the task
// overwrites instead of duplicating.
func MakeTaskID(userID int64, siteDisplay string, hour, minute int) string {
	return fmt.Sprintf("%d_%s_%02d%02d", userID, siteDisplay, hour, minute)
}
