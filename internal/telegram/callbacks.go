package telegram

import (
	"context"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"checkinbot/internal/sites"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}

	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	s.answerCallback(b, ctx, "", false)

	switch data {
	case cbSiteAcck:
		return s.siteChosenByCallback(b, ctx, sites.SiteAcck)
	case cbSiteAkile:
		return s.siteChosenByCallback(b, ctx, sites.SiteAkile)
	default:
		s.answerCallback(b, ctx, "未知操作："+data, true)
		return nil
	}
}

// siteChosenByCallback resumes the schedule wizard when the user taps a site
// button instead of typing the name.
func (s *Service) siteChosenByCallback(b *gotgbot.Bot, ctx *ext.Context, site string) error {
	uid := userID(ctx)
	if uid == 0 {
		return nil
	}
	bg := context.Background()

	state, err := s.wizard.Get(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("wizard load failed")
		s.answerCallback(b, ctx, "会话状态异常，请重新开始。", true)
		return nil
	}
	if state == nil || state.Kind != wizardKindSchedule || state.Step != stepSite {
		s.answerCallback(b, ctx, "当前没有进行中的定时任务设置，请使用 /add 重新开始。", true)
		return nil
	}
	return s.scheduleWizardSiteChosen(b, ctx, state, site)
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}
