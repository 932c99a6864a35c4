package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit"
	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

type SubscriberDirectory interface {
	Subscribe(ctx context.Context, chatID int64) (model.Recipient, error)
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
}

func ViewCmdSubscribe(dir SubscriberDirectory) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		if _, err := dir.Subscribe(ctx, update.Message.Chat.ID); err != nil {
			return err
		}
		return reply(bot, update, "Subscribed. New articles will arrive here.")
	}
}

func ViewCmdUnsubscribe(dir SubscriberDirectory) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		removed, err := dir.Unsubscribe(ctx, update.Message.Chat.ID)
		if err != nil {
			return err
		}
		if !removed {
			return reply(bot, update, "This chat was not subscribed.")
		}
		return reply(bot, update, "Unsubscribed.")
	}
}

var errNotChannel = errors.New("channel chat id must be negative")

// /addchannel <chat id>. Права бота в канале здесь не проверяются
func ViewCmdAddChannel(dir SubscriberDirectory) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		chatID, err := parseChannelID(update.Message.CommandArguments())
		if err != nil {
			return reply(bot, update, "Usage: /addchannel <chat id>, for example /addchannel -1001234567890")
		}

		recipient, err := dir.Subscribe(ctx, chatID)
		if err != nil {
			return err
		}

		return reply(bot, update, fmt.Sprintf("Channel %d added as %s.", recipient.ChatID, recipient.Kind))
	}
}

func parseChannelID(arg string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, err
	}
	if chatID >= 0 {
		return 0, errNotChannel
	}
	return chatID, nil
}
