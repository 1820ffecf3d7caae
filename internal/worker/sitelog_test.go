package worker

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSiteLogAppend(t *testing.T) {
	dir := t.TempDir()
	log := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	sl := NewSiteLog(dir, time.UTC, log)

	sl.Append("acck", "user@example.com", true, "签到成功")
	sl.Append("acck", "user@example.com", false, "登录失败: 密码错误")

	path := sl.Path("acck")
	if path == "" {
		t.Fatalf("expected log file to exist")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "成功") || !strings.Contains(lines[0], "user@example.com") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "失败") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestSiteLogPathMissing(t *testing.T) {
	log := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	sl := NewSiteLog(t.TempDir(), time.UTC, log)
	if p := sl.Path("akile"); p != "" {
		t.Fatalf("expected empty path for missing log, got %q", p)
	}
}
