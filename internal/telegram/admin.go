package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"checkinbot/internal/sites"
	"checkinbot/internal/storage"
)

// requireAdmin implements the three-strike policy: a non-admin gets a warning
// per attempt and an automatic ban on the third within one day.
func (s *Service) requireAdmin(b *gotgbot.Bot, ctx *ext.Context, command string) bool {
	if ctx.EffectiveUser == nil {
		return false
	}
	uid := userID(ctx)
	if s.gate.IsAdmin(uid) {
		return true
	}

	attempts, banned, err := s.gate.RecordAdminAttempt(context.Background(), uid, command)
	if err != nil {
		s.logger.Error().Err(err).Msg("record admin attempt failed")
		_ = s.reply(ctx, b, "你不是管理员，无权使用此命令。")
		return false
	}
	if banned {
		_ = s.reply(ctx, b, "你不是管理员，已被自动拉黑。请勿反复尝试管理命令。")
		return false
	}
	_ = s.reply(ctx, b, fmt.Sprintf("你不是管理员，无权使用此命令。警告 %d/3，超过3次将被拉黑。", attempts))
	return false
}

func parseTargetID(text string) (int64, error) {
	arg := strings.TrimSpace(commandRemainder(text))
	if arg == "" {
		return 0, fmt.Errorf("missing argument")
	}
	first, _ := splitFirstWord(arg)
	id, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id")
	}
	return id, nil
}

func (s *Service) allowUser(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "allow") {
		return nil
	}
	target, err := parseTargetID(ctx.EffectiveMessage.GetText())
	if err != nil {
		return s.reply(ctx, b, "用法：/allow <用户ID>")
	}
	bg := context.Background()
	if err := s.gate.Allow(bg, target, userID(ctx)); err != nil {
		s.logger.Error().Err(err).Msg("allow user failed")
		return s.reply(ctx, b, "操作失败，请稍后重试")
	}
	s.audit(userID(ctx), "allow", fmt.Sprintf("授权用户 %d", target))
	return s.reply(ctx, b, fmt.Sprintf("已授权用户 %d 使用Bot。", target))
}

func (s *Service) disallowUser(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "disallow") {
		return nil
	}
	target, err := parseTargetID(ctx.EffectiveMessage.GetText())
	if err != nil {
		return s.reply(ctx, b, "用法：/disallow <用户ID>")
	}
	bg := context.Background()
	if err := s.gate.Disallow(bg, target); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.reply(ctx, b, fmt.Sprintf("用户 %d 不在白名单。", target))
		}
		s.logger.Error().Err(err).Msg("disallow user failed")
		return s.reply(ctx, b, "操作失败，请稍后重试")
	}
	s.audit(userID(ctx), "disallow", fmt.Sprintf("移除白名单用户 %d", target))
	return s.reply(ctx, b, fmt.Sprintf("已移除白名单用户 %d", target))
}

func (s *Service) banUser(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "ban") {
		return nil
	}
	target, err := parseTargetID(ctx.EffectiveMessage.GetText())
	if err != nil {
		return s.reply(ctx, b, "用法：/ban <用户ID>")
	}
	bg := context.Background()
	if err := s.gate.Ban(bg, target, "admin ban"); err != nil {
		s.logger.Error().Err(err).Msg("ban user failed")
		return s.reply(ctx, b, "操作失败，请稍后重试")
	}
	s.audit(userID(ctx), "ban", fmt.Sprintf("封禁用户 %d", target))
	return s.reply(ctx, b, fmt.Sprintf("已封禁用户 %d", target))
}

func (s *Service) unbanUser(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "unban") {
		return nil
	}
	target, err := parseTargetID(ctx.EffectiveMessage.GetText())
	if err != nil {
		return s.reply(ctx, b, "用法：/unban <用户ID>")
	}
	bg := context.Background()
	if err := s.gate.Unban(bg, target, s.tempGrantTTL()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.reply(ctx, b, fmt.Sprintf("用户 %d 不在黑名单。", target))
		}
		s.logger.Error().Err(err).Msg("unban user failed")
		return s.reply(ctx, b, "操作失败，请稍后重试")
	}
	s.audit(userID(ctx), "unban", fmt.Sprintf("解封用户 %d", target))
	return s.reply(ctx, b, fmt.Sprintf("已解封用户 %d，已授予临时使用权（每日次数受限）。", target))
}

func (s *Service) stats(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "stats") {
		return nil
	}
	bg := context.Background()
	users, err := s.store.ListTopUsers(bg, 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("list usage stats failed")
		return s.reply(ctx, b, "查询失败，请稍后重试")
	}
	if len(users) == 0 {
		return s.reply(ctx, b, "暂无任何用户统计数据。")
	}

	var lines []string
	if userCount, checkins, err := s.store.CountStats(bg); err == nil {
		accounts, _ := s.store.CountAccounts(bg)
		tasks, _ := s.store.CountTasks(bg)
		lines = append(lines, fmt.Sprintf("共 %d 位用户，累计签到 %d 次；绑定账号 %d 个，定时任务 %d 个", userCount, checkins, accounts, tasks), "")
	}
	lines = append(lines, "用户ID | 累计 | 最后签到时间")
	for _, st := range users {
		last := "无"
		if st.LastRun != nil {
			last = st.LastRun.In(s.loc).Format("2006-01-02 15:04:05")
		}
		lines = append(lines, fmt.Sprintf("%d | %d | %s", st.UserID, st.TotalCount, last))
	}
	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

func (s *Service) top(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "top") {
		return nil
	}
	users, err := s.store.ListTopUsers(context.Background(), 10)
	if err != nil {
		s.logger.Error().Err(err).Msg("list top users failed")
		return s.reply(ctx, b, "查询失败，请稍后重试")
	}
	if len(users) == 0 {
		return s.reply(ctx, b, "暂无任何用户排行数据。")
	}

	lines := []string{"活跃用户排行 (前10)"}
	for i, st := range users {
		lines = append(lines, fmt.Sprintf("%d. %d - %d 次", i+1, st.UserID, st.TotalCount))
	}
	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

func (s *Service) broadcast(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "broadcast") {
		return nil
	}
	msg := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if msg == "" {
		return s.reply(ctx, b, "用法：/broadcast <内容>")
	}

	bg := context.Background()
	targets, err := s.store.ListAllowed(bg)
	if err != nil {
		s.logger.Error().Err(err).Msg("list allowed for broadcast failed")
		return s.reply(ctx, b, "查询白名单失败，请稍后重试")
	}

	sent := 0
	for _, uid := range targets {
		if _, err := b.SendMessage(uid, "[管理员广播]\n"+msg, nil); err != nil {
			s.logger.Warn().Err(err).Int64("user_id", uid).Msg("broadcast delivery failed")
			continue
		}
		sent++
	}
	s.audit(userID(ctx), "broadcast", msg)
	return s.reply(ctx, b, fmt.Sprintf("广播已发送给 %d/%d 位用户。", sent, len(targets)))
}

func (s *Service) export(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "export") {
		return nil
	}
	bg := context.Background()

	stats, err := s.store.ListTopUsers(bg, 10000)
	if err != nil {
		s.logger.Error().Err(err).Msg("export stats failed")
		return s.reply(ctx, b, "导出失败，请稍后重试")
	}
	allowed, err := s.store.ListAllowed(bg)
	if err != nil {
		s.logger.Error().Err(err).Msg("export allowed failed")
		return s.reply(ctx, b, "导出失败，请稍后重试")
	}
	banned, err := s.store.ListBanned(bg)
	if err != nil {
		s.logger.Error().Err(err).Msg("export banned failed")
		return s.reply(ctx, b, "导出失败，请稍后重试")
	}

	export := map[string]any{
		"stats":   stats,
		"allowed": allowed,
		"banned":  banned,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return s.reply(ctx, b, "导出失败，请稍后重试")
	}

	name := fmt.Sprintf("export_%s.json", s.now().In(s.loc).Format("2006-01-02_150405"))
	path := filepath.Join(s.dataDir, name)
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return s.reply(ctx, b, "导出失败，请稍后重试")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("write export failed")
		return s.reply(ctx, b, "导出失败，请稍后重试")
	}

	s.audit(userID(ctx), "export", "导出到 "+path)
	if ctx.EffectiveChat != nil {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if _, err := b.SendDocument(ctx.EffectiveChat.Id, gotgbot.InputFileByReader(name, f), nil); err == nil {
				return nil
			}
		}
	}
	return s.reply(ctx, b, fmt.Sprintf("数据已导出到 %s。", path))
}

func (s *Service) setLimit(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "setlimit") {
		return nil
	}
	arg := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	limit, err := strconv.Atoi(arg)
	if err != nil || limit <= 0 {
		return s.reply(ctx, b, "用法：/setlimit <次数>")
	}
	if err := s.ledger.SetGlobalLimit(context.Background(), limit); err != nil {
		s.logger.Error().Err(err).Msg("set global limit failed")
		return s.reply(ctx, b, "设置失败，请稍后重试")
	}
	s.audit(userID(ctx), "setlimit", fmt.Sprintf("设置每日签到次数上限为 %d", limit))
	return s.reply(ctx, b, fmt.Sprintf("已设置每日签到次数上限为 %d 次。", limit))
}

// setQuota manages per-user overrides: /setquota <id> <n> sets, n=0 removes.
func (s *Service) setQuota(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "setquota") {
		return nil
	}
	rest := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	idStr, limitStr := splitFirstWord(rest)
	target, err1 := strconv.ParseInt(idStr, 10, 64)
	limit, err2 := strconv.Atoi(strings.TrimSpace(limitStr))
	if err1 != nil || err2 != nil || limit < 0 {
		return s.reply(ctx, b, "用法：/setquota <用户ID> <次数>（0 表示恢复默认）")
	}

	bg := context.Background()
	if limit == 0 {
		if err := s.store.RemoveQuotaOverride(bg, target); err != nil {
			s.logger.Error().Err(err).Msg("remove quota override failed")
			return s.reply(ctx, b, "设置失败，请稍后重试")
		}
		s.audit(userID(ctx), "setquota", fmt.Sprintf("恢复用户 %d 默认次数", target))
		return s.reply(ctx, b, fmt.Sprintf("已恢复用户 %d 的默认每日次数。", target))
	}
	if err := s.store.SetQuotaOverride(bg, target, limit); err != nil {
		s.logger.Error().Err(err).Msg("set quota override failed")
		return s.reply(ctx, b, "设置失败，请稍后重试")
	}
	s.audit(userID(ctx), "setquota", fmt.Sprintf("设置用户 %d 每日次数为 %d", target, limit))
	return s.reply(ctx, b, fmt.Sprintf("已设置用户 %d 每日签到次数上限为 %d 次。", target, limit))
}

func (s *Service) summary(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "summary") {
		return nil
	}
	bg := context.Background()
	total, err := s.store.CountAdminLog(bg)
	if err != nil {
		s.logger.Error().Err(err).Msg("count admin log failed")
		return s.reply(ctx, b, "查询失败，请稍后重试")
	}
	if total == 0 {
		return s.reply(ctx, b, "暂无管理员操作记录。")
	}

	entries, err := s.store.ListAdminLog(bg, 10)
	if err != nil {
		s.logger.Error().Err(err).Msg("list admin log failed")
		return s.reply(ctx, b, "查询失败，请稍后重试")
	}

	lines := []string{fmt.Sprintf("共 %d 条管理员操作记录，最近 %d 条：", total, len(entries))}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %d %s %s",
			e.CreatedAt.In(s.loc).Format("01-02 15:04"), e.UserID, e.Action, e.Detail))
	}
	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

// siteLogs sends the tail of today's execution log for one site.
func (s *Service) siteLogs(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "logs") {
		return nil
	}
	site, err := sites.Normalize(commandRemainder(ctx.EffectiveMessage.GetText()))
	if err != nil {
		return s.reply(ctx, b, "用法：/logs <acck|akile>")
	}

	path := s.siteLog.Path(site)
	if path == "" {
		return s.reply(ctx, b, fmt.Sprintf("%s 今日暂无签到日志。", sites.DisplayName(site)))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("read site log failed")
		return s.reply(ctx, b, "读取日志失败，请稍后重试")
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	const tail = 20
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	header := fmt.Sprintf("%s 今日签到日志（最近 %d 条）：", sites.DisplayName(site), len(lines))
	return s.reply(ctx, b, header+"\n"+strings.Join(lines, "\n"))
}

func (s *Service) restartCmd(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "restart") {
		return nil
	}
	s.audit(userID(ctx), "restart", "管理员触发重启")
	_ = s.reply(ctx, b, "Bot正在重启...")
	if s.restart == nil {
		return s.reply(ctx, b, "当前部署不支持自助重启。")
	}
	if err := s.restart(); err != nil {
		s.logger.Error().Err(err).Msg("restart failed")
		return s.reply(ctx, b, "重启失败，请检查日志。")
	}
	return nil
}

func (s *Service) shutdownCmd(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "shutdown") {
		return nil
	}
	s.audit(userID(ctx), "shutdown", "关闭Bot")
	_ = s.reply(ctx, b, "Bot即将关闭...")
	if s.shutdown != nil {
		s.shutdown()
	}
	return nil
}

func (s *Service) audit(uid int64, action, detail string) {
	if err := s.store.LogAdminAction(context.Background(), uid, action, detail); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("write admin log failed")
	}
}
