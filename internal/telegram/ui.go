package telegram

import (
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

const (
	cbPrefix = "cb:"

	cbSiteAcck  = cbPrefix + "site_acck"
	cbSiteAkile = cbPrefix + "site_akile"
)

var helpText = strings.Join([]string{
	"签到Bot使用说明",
	"",
	"签到命令：",
	"/acck - Acck 签到（未绑定时会引导绑定账号）",
	"/akile - Akile 签到（未绑定时会引导绑定账号）",
	"/me - 查看我的状态与使用情况",
	"/unbind - 清除已绑定的账号信息",
	"/cancel - 取消当前操作",
	"",
	"定时任务：",
	"/add - 添加每日定时签到任务",
	"/del <任务ID> - 删除定时任务",
	"/all - 查看我的定时任务",
	"",
	"管理员命令：",
	"/allow <用户ID> - 授权用户",
	"/disallow <用户ID> - 移除白名单",
	"/ban <用户ID> - 封禁用户",
	"/unban <用户ID> - 解封用户",
	"/stats - 用户使用统计",
	"/top - 活跃用户排行",
	"/broadcast <内容> - 向白名单用户广播",
	"/export - 导出用户数据",
	"/setlimit <次数> - 设置全局每日次数上限",
	"/setquota <用户ID> <次数> - 设置单用户每日次数",
	"/summary - 查看管理操作记录",
	"/logs <站点> - 查看今日签到日志",
	"/menu - 设置Bot命令菜单",
	"/restart - 重启Bot",
	"/shutdown - 关闭Bot",
}, "\n")

// botCommands is what /menu registers with Telegram so the client shows a
// command list. Admin-only commands stay out of it.
var botCommands = []gotgbot.BotCommand{
	{Command: "acck", Description: "Acck 签到"},
	{Command: "akile", Description: "Akile 签到"},
	{Command: "me", Description: "我的状态"},
	{Command: "add", Description: "添加定时签到任务"},
	{Command: "del", Description: "删除定时任务"},
	{Command: "all", Description: "查看定时任务"},
	{Command: "unbind", Description: "清除账号信息"},
	{Command: "cancel", Description: "取消当前操作"},
	{Command: "help", Description: "使用说明"},
}

func (s *Service) menu(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireAdmin(b, ctx, "menu") {
		return nil
	}
	if _, err := b.SetMyCommands(botCommands, nil); err != nil {
		s.logger.Error().Err(err).Msg("set bot commands failed")
		return s.reply(ctx, b, "设置命令菜单失败，请稍后重试")
	}

	lines := []string{"命令菜单已更新。如需在 BotFather 中同步，可粘贴以下内容："}
	for _, c := range botCommands {
		lines = append(lines, c.Command+" - "+c.Description)
	}
	s.audit(userID(ctx), "menu", "更新命令菜单")
	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

func (s *Service) siteKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "Acck", CallbackData: cbSiteAcck},
			{Text: "Akile", CallbackData: cbSiteAkile},
		},
	}}
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}
