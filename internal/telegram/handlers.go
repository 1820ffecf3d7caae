package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"checkinbot/internal/queue"
	"checkinbot/internal/scheduler"
	"checkinbot/internal/sites"
	"checkinbot/internal/storage"
)

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	allowed, err := s.gate.IsAllowed(context.Background(), userID(ctx))
	if err != nil {
		s.logger.Error().Err(err).Msg("access check failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	if !allowed {
		return s.reply(ctx, b, "您未被授权使用此Bot，请联系管理员。")
	}
	return s.reply(ctx, b, fmt.Sprintf(
		"欢迎使用签到系统，你的ID为：%d\n请输入命令或点击菜单按钮进行操作。\n如需帮助请输入 /help", userID(ctx)))
}

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, helpText)
}

func (s *Service) acckEntry(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.beginCheckinWizard(b, ctx, sites.SiteAcck)
}

func (s *Service) akileEntry(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.beginCheckinWizard(b, ctx, sites.SiteAkile)
}

// beginCheckinWizard runs the gate checks up front so the user is not asked
// for credentials only to be rejected afterwards.
func (s *Service) beginCheckinWizard(b *gotgbot.Bot, ctx *ext.Context, site string) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if ctx.EffectiveChat.Type != "private" {
		return s.reply(ctx, b, "请在与Bot的私聊中使用本功能。")
	}
	uid := userID(ctx)
	bg := context.Background()

	banned, err := s.gate.IsBanned(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("ban check failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	if banned {
		return s.reply(ctx, b, "您已被封禁，无法使用此Bot。")
	}
	allowed, err := s.gate.IsAllowed(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("access check failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	if !allowed {
		return s.reply(ctx, b, "您未被授权使用此Bot，请联系管理员。")
	}

	onTempGrant, err := s.gate.HasTempGrant(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("temp grant check failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	canUse, used, limit, err := s.ledger.Check(bg, uid, onTempGrant, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("quota check failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	if !canUse {
		return s.reply(ctx, b, fmt.Sprintf("今日使用次数已达上限（%d次），您已使用%d次，请明天再试。", limit, used))
	}

	// An existing binding lets the user skip straight to the check-in.
	if _, err := s.store.GetAccount(bg, site, uid); err == nil {
		return s.enqueueCheckin(b, ctx, site)
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Msg("load account failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}

	state := wizardState{Kind: wizardKindCheckin, Site: site, Step: stepUsername}
	if err := s.wizard.Set(bg, uid, state); err != nil {
		s.logger.Error().Err(err).Msg("start wizard failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	return s.reply(ctx, b, "请输入账号：")
}

func (s *Service) enqueueCheckin(b *gotgbot.Bot, ctx *ext.Context, site string) error {
	msg := ctx.EffectiveMessage
	var messageID int64
	if msg != nil {
		messageID = msg.MessageId
	}
	job := queue.CheckinJob{
		UserID:    userID(ctx),
		ChatID:    ctx.EffectiveChat.Id,
		MessageID: messageID,
		Site:      site,
		Origin:    queue.OriginManual,
	}
	if _, err := s.queue.Enqueue(context.Background(), job); err != nil {
		s.logger.Error().Err(err).Msg("enqueue check-in failed")
		return s.reply(ctx, b, "队列暂时不可用，请稍后重试")
	}
	s.metrics.EnqueuedJobs.Inc()
	return s.reply(ctx, b, fmt.Sprintf("%s 签到已受理，完成后将收到结果。", sites.DisplayName(site)))
}

func (s *Service) me(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	uid := userID(ctx)
	bg := context.Background()

	var lines []string
	switch {
	case s.gate.IsAdmin(uid):
		lines = append(lines, "身份：管理员")
	default:
		banned, _ := s.gate.IsBanned(bg, uid)
		allowed, _ := s.store.IsAllowed(bg, uid)
		temp, _ := s.gate.HasTempGrant(bg, uid)
		switch {
		case banned:
			lines = append(lines, "身份：黑名单用户")
		case allowed:
			lines = append(lines, "身份：白名单用户")
		case temp:
			lines = append(lines, "身份：临时授权用户")
		default:
			lines = append(lines, "身份：未授权用户")
		}
	}

	onTempGrant, _ := s.gate.HasTempGrant(bg, uid)
	_, used, limit, err := s.ledger.Check(bg, uid, onTempGrant, s.now())
	if err == nil {
		if limit == 0 {
			lines = append(lines, "今日已用：不限次数")
		} else {
			lines = append(lines, fmt.Sprintf("今日已用：%d/%d次", used, limit))
		}
	}

	st, err := s.store.GetUsageStat(bg, uid)
	if err != nil {
		lines = append(lines, "累计签到：0 次", "最后签到时间：无记录")
	} else {
		lines = append(lines, fmt.Sprintf("累计签到：%d 次", st.TotalCount))
		if st.LastRun != nil {
			lines = append(lines, "最后签到时间："+st.LastRun.In(s.loc).Format("2006-01-02 15:04:05"))
		} else {
			lines = append(lines, "最后签到时间：无记录")
		}
	}

	accounts, err := s.store.ListAccountsForUser(bg, uid)
	if err == nil && len(accounts) > 0 {
		bound := make([]string, 0, len(accounts))
		for _, a := range accounts {
			bound = append(bound, sites.DisplayName(a.Site))
		}
		lines = append(lines, "已绑定站点："+strings.Join(bound, "、"))
	}

	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

func (s *Service) unbind(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	uid := userID(ctx)
	bg := context.Background()

	if _, err := s.store.DeleteAccountsForUser(bg, uid); err != nil {
		s.logger.Error().Err(err).Msg("unbind failed")
		return s.reply(ctx, b, "解绑失败，请稍后重试")
	}
	// Orphaned schedules would fail every night, so they go too.
	tasks, err := s.store.ListTasksForUser(bg, uid)
	if err == nil {
		for _, t := range tasks {
			_ = s.store.DeleteTask(bg, t.ID, uid)
		}
	}
	return s.reply(ctx, b, "您的所有账号信息已清除。")
}

func (s *Service) cancelWizard(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	if err := s.wizard.Clear(context.Background(), userID(ctx)); err != nil {
		s.logger.Error().Err(err).Msg("clear wizard failed")
	}
	return s.reply(ctx, b, "操作已取消。")
}

func (s *Service) addTask(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if ctx.EffectiveChat.Type != "private" {
		return s.reply(ctx, b, "请在与Bot的私聊中使用本功能。")
	}
	uid := userID(ctx)
	bg := context.Background()

	allowed, err := s.gate.IsAllowed(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("access check failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	if !allowed {
		return s.reply(ctx, b, "您未被授权使用此Bot，请联系管理员。")
	}

	state := wizardState{Kind: wizardKindSchedule, Step: stepSite}
	if err := s.wizard.Set(bg, uid, state); err != nil {
		s.logger.Error().Err(err).Msg("start schedule wizard failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	return s.replyWithMarkup(ctx, b, "请选择要定时签到的站点：", s.siteKeyboard())
}

func (s *Service) delTask(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil || ctx.EffectiveMessage == nil {
		return nil
	}
	uid := userID(ctx)
	taskID := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if taskID == "" {
		return s.reply(ctx, b, "用法：/del <任务ID>，任务ID可通过 /all 查看")
	}

	owner := uid
	if s.gate.IsAdmin(uid) {
		owner = 0
	}
	if err := s.store.DeleteTask(context.Background(), taskID, owner); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.reply(ctx, b, "未找到该任务，请用 /all 确认任务ID。")
		}
		s.logger.Error().Err(err).Msg("delete task failed")
		return s.reply(ctx, b, "删除失败，请稍后重试")
	}
	return s.reply(ctx, b, fmt.Sprintf("已删除定时任务 %s", taskID))
}

func (s *Service) listTasks(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	tasks, err := s.store.ListTasksForUser(context.Background(), userID(ctx))
	if err != nil {
		s.logger.Error().Err(err).Msg("list tasks failed")
		return s.reply(ctx, b, "查询失败，请稍后重试")
	}
	if len(tasks) == 0 {
		return s.reply(ctx, b, "您还没有定时任务，使用 /add 添加。")
	}

	lines := []string{"您的定时任务："}
	for _, t := range tasks {
		status := "启用"
		if !t.Enabled {
			status = "禁用"
		}
		line := fmt.Sprintf("- %s  %s %02d:%02d [%s]", t.ID, sites.DisplayName(t.Site), t.Hour, t.Minute, status)
		if t.LastRun != nil {
			line += "  上次运行：" + t.LastRun.In(s.loc).Format("01-02 15:04")
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "使用 /del <任务ID> 删除任务。")
	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

// privateText advances whichever wizard the user has in flight.
func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil || ctx.EffectiveMessage == nil {
		return nil
	}
	if ctx.EffectiveChat.Type != "private" {
		return nil
	}
	text := strings.TrimSpace(ctx.EffectiveMessage.GetText())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}

	uid := userID(ctx)
	bg := context.Background()
	state, err := s.wizard.Get(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("wizard load failed")
		return s.reply(ctx, b, "会话状态异常，请重新开始。")
	}
	if state == nil {
		return nil
	}

	switch state.Kind {
	case wizardKindCheckin:
		return s.advanceCheckinWizard(b, ctx, state, text)
	case wizardKindSchedule:
		return s.advanceScheduleWizard(b, ctx, state, text)
	}
	return nil
}

func (s *Service) advanceCheckinWizard(b *gotgbot.Bot, ctx *ext.Context, state *wizardState, text string) error {
	uid := userID(ctx)
	bg := context.Background()

	switch state.Step {
	case stepUsername:
		state.Username = text
		state.Step = stepPassword
		if err := s.wizard.Set(bg, uid, *state); err != nil {
			return s.reply(ctx, b, "系统繁忙，请稍后重试")
		}
		return s.reply(ctx, b, "请输入密码：")

	case stepPassword:
		sealed, err := s.keyring.SealString(text)
		if err != nil {
			s.logger.Error().Err(err).Msg("seal password failed")
			return s.reply(ctx, b, "系统繁忙，请稍后重试")
		}
		state.SealedPass = sealed
		state.Step = stepTOTP
		if err := s.wizard.Set(bg, uid, *state); err != nil {
			return s.reply(ctx, b, "系统繁忙，请稍后重试")
		}
		return s.reply(ctx, b, "是否有TOTP二步验证？有请输入TOTP密钥，没有请回复'无'：")

	case stepTOTP:
		if text != "无" {
			sealed, err := s.keyring.SealString(text)
			if err != nil {
				s.logger.Error().Err(err).Msg("seal totp failed")
				return s.reply(ctx, b, "系统繁忙，请稍后重试")
			}
			state.SealedTOTP = sealed
		}
		if err := s.finishCheckinWizard(bg, uid, state); err != nil {
			s.logger.Error().Err(err).Msg("finish checkin wizard failed")
			return s.reply(ctx, b, "保存账号失败，请重新尝试。")
		}
		_ = s.wizard.Clear(bg, uid)
		return s.enqueueCheckin(b, ctx, state.Site)
	}
	return nil
}

func (s *Service) finishCheckinWizard(ctx context.Context, uid int64, state *wizardState) error {
	account := storage.Account{
		Site:        state.Site,
		UserID:      uid,
		Username:    state.Username,
		EncPassword: state.SealedPass,
	}
	if state.SealedTOTP != "" {
		account.EncTOTPSecret = &state.SealedTOTP
	}
	return s.store.UpsertAccount(ctx, account)
}

func (s *Service) advanceScheduleWizard(b *gotgbot.Bot, ctx *ext.Context, state *wizardState, text string) error {
	uid := userID(ctx)
	bg := context.Background()

	switch state.Step {
	case stepSite:
		site, err := sites.Normalize(text)
		if err != nil {
			return s.reply(ctx, b, "请选择站点：acck 或 akile")
		}
		return s.scheduleWizardSiteChosen(b, ctx, state, site)

	case stepTime:
		hour, minute := 0, 10
		if text != "默认" {
			var err error
			hour, minute, err = scheduler.ParseTimeOfDay(text)
			if err != nil {
				return s.reply(ctx, b, err.Error())
			}
		}
		if err := s.createTask(bg, uid, state.Site, hour, minute); err != nil {
			s.logger.Error().Err(err).Msg("create task failed")
			return s.reply(ctx, b, "创建任务失败，请稍后重试")
		}
		_ = s.wizard.Clear(bg, uid)
		taskID := scheduler.MakeTaskID(uid, sites.DisplayName(state.Site), hour, minute)
		return s.reply(ctx, b, fmt.Sprintf(
			"已添加定时任务 %s，每天 %02d:%02d 自动签到。\n使用 /all 查看，/del %s 删除。",
			taskID, hour, minute, taskID))
	}
	return nil
}

func (s *Service) scheduleWizardSiteChosen(b *gotgbot.Bot, ctx *ext.Context, state *wizardState, site string) error {
	uid := userID(ctx)
	bg := context.Background()

	if _, err := s.store.GetAccount(bg, site, uid); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = s.wizard.Clear(bg, uid)
			return s.reply(ctx, b, fmt.Sprintf("未绑定 %s 账号，请先使用 /%s 绑定后再添加定时任务。", sites.DisplayName(site), site))
		}
		s.logger.Error().Err(err).Msg("load account failed")
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}

	state.Site = site
	state.Step = stepTime
	if err := s.wizard.Set(bg, uid, *state); err != nil {
		return s.reply(ctx, b, "系统繁忙，请稍后重试")
	}
	return s.reply(ctx, b, "请输入签到时间（如 8:30），或回复'默认'使用 00:10：")
}

func (s *Service) createTask(ctx context.Context, uid int64, site string, hour, minute int) error {
	task := storage.Task{
		ID:      scheduler.MakeTaskID(uid, sites.DisplayName(site), hour, minute),
		UserID:  uid,
		Site:    site,
		Hour:    hour,
		Minute:  minute,
		Enabled: true,
	}
	return s.store.UpsertTask(ctx, task)
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func splitFirstWord(s string) (first string, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
