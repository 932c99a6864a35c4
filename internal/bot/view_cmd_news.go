package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit"
	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

type LatestProvider interface {
	Latest(ctx context.Context, limit int) ([]model.Article, error)
}

type ArticleSender interface {
	SendArticle(ctx context.Context, chatID int64, article model.Article) error
	SendPresence(ctx context.Context, chatID int64) error
}

// Последние новости из кэша, новые сверху
func ViewCmdNews(latest LatestProvider, sender ArticleSender, limit int) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		chatID := update.Message.Chat.ID

		// Пока читаем кэш, пользователь видит "печатает..."
		if err := sender.SendPresence(ctx, chatID); err != nil {
			return err
		}

		articles, err := latest.Latest(ctx, limit)
		if err != nil {
			return err
		}

		if len(articles) == 0 {
			return reply(bot, update, "No news yet, try again later.")
		}

		for _, article := range articles {
			if err := sender.SendArticle(ctx, chatID, article); err != nil {
				return err
			}
		}

		return nil
	}
}
