package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kovalyov-valentin/mal-news-bot/internal/alert"
	"github.com/kovalyov-valentin/mal-news-bot/internal/api"
	"github.com/kovalyov-valentin/mal-news-bot/internal/bot"
	"github.com/kovalyov-valentin/mal-news-bot/internal/bot/middleware"
	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit"
	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit/tgsender"
	"github.com/kovalyov-valentin/mal-news-bot/internal/config"
	"github.com/kovalyov-valentin/mal-news-bot/internal/logger"
	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
	"github.com/kovalyov-valentin/mal-news-bot/internal/notifier"
	"github.com/kovalyov-valentin/mal-news-bot/internal/pipeline"
	"github.com/kovalyov-valentin/mal-news-bot/internal/scheduler"
	"github.com/kovalyov-valentin/mal-news-bot/internal/source"
	"github.com/kovalyov-valentin/mal-news-bot/internal/storage"
	"github.com/kovalyov-valentin/mal-news-bot/internal/summary"
)

// Ключ задачи, которая ставится из auto_schedule
const autoScheduleKey = "auto"

type articleRepository interface {
	Ingest(ctx context.Context, items []model.Item, maxCache int) (model.IngestResult, error)
	Latest(ctx context.Context, limit int) ([]model.Article, error)
}

func main() {
	cfg := config.Get()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := config.Err(); err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return
	}
	for _, w := range config.Warnings() {
		log.Warn().Msg(w)
	}

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error().Err(err).Msg("failed to create bot")
		return
	}

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.DatabaseDriver).Msg("failed to open database")
		return
	}
	defer db.Close()

	var (
		articleStorage                   = storage.NewArticleStorage(db)
		subscribers                      = storage.NewSubscriberStorage(db)
		articles       articleRepository = articleStorage
	)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed, cache will fall back to database")
		}
		articles = storage.NewCachedArticles(articleStorage, rdb, log)
	}

	var (
		fetcher     = source.NewFetcher(cfg.FetchTimeout, log)
		extractor   = source.NewExtractor(cfg.NewsURL, log)
		sender      = tgsender.New(botAPI, cfg.RatePerSec, cfg.ChatRatePerMinute, log)
		reporter    = alert.New(log, sender, cfg.LogChannelID)
		summarizer  = summary.NewOpenAISummarizer(cfg.OpenAIKey, cfg.OpenAIPrompt, log)
		distributor = notifier.New(sender, cfg.DigestThreshold, cfg.FanoutWorkers, log)
	)

	if summarizer.Enabled() {
		distributor.WithSummarizer(summarizer, fetcher)
	}

	newsPipeline := pipeline.New(
		pipeline.Config{
			URL:            cfg.NewsURL,
			Retries:        cfg.FetchRetries,
			RetryDelay:     cfg.FetchRetryDelay,
			MaxCache:       cfg.MaxCache,
			FilterKeywords: cfg.FilterKeywords,
		},
		fetcher,
		extractor,
		articles,
		subscribers,
		distributor,
		reporter,
		sender,
		log,
	)

	sched := scheduler.New(reporter, log)
	defer sched.Stop()

	controller := pipeline.NewController(sched, newsPipeline, cfg.FetchInterval)

	if cfg.AutoSchedule != "" {
		if _, err := controller.RequestScheduleSpec(autoScheduleKey, cfg.AutoSchedule); err != nil {
			log.Error().Err(err).Str("spec", cfg.AutoSchedule).Msg("failed to install auto schedule")
		}
	}

	// Команды, меняющие расписание и получателей, доступны только операторам
	adminOnly := func(view botkit.ViewFunc) botkit.ViewFunc {
		return middleware.AdminOnly(cfg.AdminIDs, view)
	}

	newsBot := botkit.New(botAPI, log)
	newsBot.RegisterCmdView("start", bot.ViewCmdStart())
	newsBot.RegisterCmdView("help", bot.ViewCmdStart())
	newsBot.RegisterCmdView("news", bot.ViewCmdNews(articles, sender, cfg.LatestLimit))
	newsBot.RegisterCmdView("subscribe", bot.ViewCmdSubscribe(subscribers))
	newsBot.RegisterCmdView("unsubscribe", bot.ViewCmdUnsubscribe(subscribers))
	newsBot.RegisterCmdView("start_schedule", adminOnly(bot.ViewCmdStartSchedule(controller)))
	newsBot.RegisterCmdView("stop_schedule", adminOnly(bot.ViewCmdStopSchedule(controller)))
	newsBot.RegisterCmdView("status", adminOnly(bot.ViewCmdStatus(controller)))
	newsBot.RegisterCmdView("addchannel", adminOnly(bot.ViewCmdAddChannel(subscribers)))

	// Воркер алертов
	go func(ctx context.Context) {
		if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("alert worker stopped")
		}
	}(ctx)

	if cfg.HTTPAddr != "" {
		server := api.NewServer(articles, controller, cfg.LatestLimit, cfg.HTTPToken, log)
		go serveHTTP(ctx, log, cfg.HTTPAddr, server.Router())
	}

	log.Info().Str("bot", botAPI.Self.UserName).Msg("bot started")

	if err := newsBot.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("failed to run bot")
			return
		}

		log.Info().Msg("bot stopped")
	}
}

func serveHTTP(ctx context.Context, log zerolog.Logger, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("http api started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("http api stopped")
	}
}
