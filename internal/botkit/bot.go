package botkit

import (
	"context"
	"runtime/debug"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Сколько времени дается одной view на обработку апдейта
const updateTimeout = 30 * time.Second

// Update здесь это любой эвент, который приходит от телеграма при взаимодействии пользователя с ботом.
// Это функция, которая реагирует на определенную команду
type ViewFunc func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error

type Bot struct {
	api *tgbotapi.BotAPI
	// Мапа со view по имени команды
	cmdViews map[string]ViewFunc
	log      zerolog.Logger
}

func New(api *tgbotapi.BotAPI, log zerolog.Logger) *Bot {
	return &Bot{
		api: api,
		log: log.With().Str("component", "bot").Logger(),
	}
}

// Метод для регистрации View для команды
func (b *Bot) RegisterCmdView(cmd string, view ViewFunc) {
	if b.cmdViews == nil {
		b.cmdViews = make(map[string]ViewFunc)
	}

	b.cmdViews[cmd] = view
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case update := <-updates:
			updateCtx, updateCancel := context.WithTimeout(ctx, updateTimeout)
			b.handleUpdate(updateCtx, update)
			updateCancel()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Метод, который обрабатывает update и роутит команды на соответствующие view
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	// В какой-то view может произойти паника, перехватываем ее
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().Interface("panic", p).Str("stack", string(debug.Stack())).Msg("panic recovered")
		}
	}()

	// Команды из каналов приходят как ChannelPost, view работают с Message
	if update.Message == nil && update.ChannelPost != nil {
		update.Message = update.ChannelPost
	}

	view, ok := b.route(update)
	if !ok {
		return
	}

	if err := view(ctx, b.api, update); err != nil {
		b.log.Error().Err(err).Str("cmd", update.Message.Command()).Int64("chat_id", update.Message.Chat.ID).Msg("failed to handle update")

		if _, err := b.api.Send(
			tgbotapi.NewMessage(update.Message.Chat.ID, "internal error"),
		); err != nil {
			b.log.Error().Err(err).Msg("failed to send message")
		}
	}
}

func (b *Bot) route(update tgbotapi.Update) (ViewFunc, bool) {
	if update.Message == nil || !update.Message.IsCommand() {
		return nil, false
	}

	view, ok := b.cmdViews[update.Message.Command()]
	return view, ok
}
