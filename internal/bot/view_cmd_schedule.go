package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit"
	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit/markup"
	"github.com/kovalyov-valentin/mal-news-bot/internal/scheduler"
)

type ScheduleController interface {
	RequestSchedule(origin string, interval time.Duration) (bool, error)
	RequestCancel(origin string) bool
	Jobs() []scheduler.JobInfo
	DefaultInterval() time.Duration
}

// Ключ расписания это chat id, откуда пришла команда
func originKey(update tgbotapi.Update) string {
	return strconv.FormatInt(update.Message.Chat.ID, 10)
}

// /start_schedule [минуты]
func ViewCmdStartSchedule(ctrl ScheduleController) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		interval, err := parseMinutes(update.Message.CommandArguments(), ctrl.DefaultInterval())
		if err != nil {
			return reply(bot, update, "Usage: /start_schedule [minutes], minutes must be a positive number.")
		}

		replaced, err := ctrl.RequestSchedule(originKey(update), interval)
		if err != nil {
			return err
		}

		text := fmt.Sprintf("News checks scheduled every %s.", interval)
		if replaced {
			text = fmt.Sprintf("Previous schedule replaced, news checks every %s.", interval)
		}
		return reply(bot, update, text)
	}
}

func ViewCmdStopSchedule(ctrl ScheduleController) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		if !ctrl.RequestCancel(originKey(update)) {
			return reply(bot, update, "No active schedule for this chat.")
		}
		return reply(bot, update, "Schedule stopped.")
	}
}

func ViewCmdStatus(ctrl ScheduleController) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		jobs := ctrl.Jobs()
		if len(jobs) == 0 {
			return reply(bot, update, "No active schedules.")
		}

		lines := lo.Map(jobs, func(job scheduler.JobInfo, _ int) string {
			return formatJob(job)
		})

		return replyMarkdown(bot, update, fmt.Sprintf(
			"Active schedules \\(%d\\):\n\n%s",
			len(jobs),
			strings.Join(lines, "\n\n"),
		))
	}
}

func formatJob(job scheduler.JobInfo) string {
	text := fmt.Sprintf(
		"⏱ %s every %s\nruns: %d, failures: %d",
		markup.EscapeForMarkdown(job.Key),
		markup.EscapeForMarkdown(job.Spec),
		job.Runs,
		job.Failures,
	)
	if job.LastError != "" {
		text += "\nlast error: " + markup.EscapeForMarkdown(job.LastError)
	}
	return text
}

func parseMinutes(arg string, fallback time.Duration) (time.Duration, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return fallback, nil
	}

	minutes, err := strconv.Atoi(arg)
	if err != nil {
		return 0, err
	}
	if minutes <= 0 {
		return 0, scheduler.ErrInvalidInterval
	}

	return time.Duration(minutes) * time.Minute, nil
}
