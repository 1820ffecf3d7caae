package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SiteLog appends one line per check-in to a per-site, per-day plain text
// file, e.g. logs/acck_2026-08-29.log. These files are the audit trail the
// admin can pull with /export.
type SiteLog struct {
	dir string
	loc *time.Location
	log zerolog.Logger

	mu sync.Mutex
}

func NewSiteLog(dir string, loc *time.Location, log zerolog.Logger) *SiteLog {
	if loc == nil {
		loc = time.UTC
	}
	return &SiteLog{dir: dir, loc: loc, log: log}
}

func (s *SiteLog) Append(site, username string, success bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.loc)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Error().Err(err).Msg("create site log dir")
		return
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.log", site, now.Format("2006-01-02")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("open site log")
		return
	}
	defer f.Close()

	outcome := "成功"
	if !success {
		outcome = "失败"
	}
	line := fmt.Sprintf("[%s] %s %s %s\n", now.Format("15:04:05"), username, outcome, message)
	if _, err := f.WriteString(line); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("write site log")
	}
}

// Path returns today's log file for a site, or an empty string when the file
// does not exist yet.
func (s *SiteLog) Path(site string) string {
	now := time.Now().In(s.loc)
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.log", site, now.Format("2006-01-02")))
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
