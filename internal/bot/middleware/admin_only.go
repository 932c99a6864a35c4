package middleware

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit"
)

// AdminOnly пропускает команду только от операторов из списка.
// В каналах отправителя нет, поэтому там проверяется id самого канала.
func AdminOnly(adminIDs []int64, next botkit.ViewFunc) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		if IsAdmin(adminIDs, update) {
			return next(ctx, bot, update)
		}

		if _, err := bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "You are not allowed to use this command.")); err != nil {
			return err
		}
		return nil
	}
}

func IsAdmin(adminIDs []int64, update tgbotapi.Update) bool {
	if update.Message == nil {
		return false
	}
	if update.Message.From != nil {
		return lo.Contains(adminIDs, update.Message.From.ID)
	}
	return update.Message.Chat != nil && lo.Contains(adminIDs, update.Message.Chat.ID)
}
