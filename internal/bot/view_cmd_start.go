package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit"
)

const helpText = `Anime news bot.

/news - latest news
/subscribe - get new articles in this chat
/unsubscribe - stop getting new articles

Admin commands:
/start_schedule [minutes] - check for news periodically
/stop_schedule - stop periodic checks for this chat
/status - list active schedules
/addchannel <chat id> - deliver news to a channel`

func ViewCmdStart() botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		return reply(bot, update, helpText)
	}
}
