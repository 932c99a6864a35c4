package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
)

// Хранится в файле в формате hcl, переменные окружения с префиксом MNB_
type Config struct {
	TelegramBotToken string  `hcl:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN" required:"true"`
	AdminIDs         []int64 `hcl:"admin_ids" env:"ADMIN_IDS"`
	// Куда слать алерты. 0 значит только в лог
	LogChannelID int64 `hcl:"log_channel_id" env:"LOG_CHANNEL_ID"`

	DatabaseDriver string `hcl:"database_driver" env:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN    string `hcl:"database_dsn" env:"DATABASE_DSN" default:"data/news.db"`
	// Пустой адрес выключает кэш
	RedisAddr string `hcl:"redis_addr" env:"REDIS_ADDR"`
	// Пустой адрес выключает HTTP API
	HTTPAddr string `hcl:"http_addr" env:"HTTP_ADDR"`
	// Токен для управляющих ручек API, пустой значит без проверки
	HTTPToken string `hcl:"http_token" env:"HTTP_TOKEN"`

	NewsURL         string        `hcl:"news_url" env:"NEWS_URL" default:"https://myanimelist.net/news"`
	FetchRetries    int           `hcl:"fetch_retries" env:"FETCH_RETRIES" default:"30"`
	FetchRetryDelay time.Duration `hcl:"fetch_retry_delay" env:"FETCH_RETRY_DELAY" default:"5s"`
	FetchTimeout    time.Duration `hcl:"fetch_timeout" env:"FETCH_TIMEOUT" default:"30s"`

	MaxCache        int           `hcl:"max_cache" env:"MAX_CACHE" default:"50"`
	LatestLimit     int           `hcl:"latest_limit" env:"LATEST_LIMIT" default:"5"`
	DigestThreshold int           `hcl:"digest_threshold" env:"DIGEST_THRESHOLD" default:"5"`
	FetchInterval   time.Duration `hcl:"fetch_interval" env:"FETCH_INTERVAL" default:"10m"`
	// cron выражение; если задано, при старте ставится задача с ключом auto
	AutoSchedule string `hcl:"auto_schedule" env:"AUTO_SCHEDULE"`

	RatePerSec        int `hcl:"rate_per_sec" env:"RATE_PER_SEC" default:"25"`
	ChatRatePerMinute int `hcl:"chat_rate_per_minute" env:"CHAT_RATE_PER_MINUTE" default:"15"`
	FanoutWorkers     int `hcl:"fanout_workers" env:"FANOUT_WORKERS" default:"4"`

	FilterKeywords []string `hcl:"filter_keywords" env:"FILTER_KEYWORDS"`
	OpenAIKey      string   `hcl:"openai_key" env:"OPENAI_KEY"`
	OpenAIPrompt   string   `hcl:"openai_prompt" env:"OPENAI_PROMPT"`

	LogLevel  string `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat string `hcl:"log_format" env:"LOG_FORMAT" default:"console"`
}

var (
	cfg      Config
	warnings []string
	loadErr  error
	once     sync.Once
)

// Get читает конфиг один раз и дальше отдает его из памяти.
// Ошибку загрузки и поправленные значения можно забрать через Err и Warnings
func Get() Config {
	once.Do(func() {
		cfg, loadErr = Load("./config.hcl", "./config.local.hcl")
		warnings = cfg.Normalize()
	})

	return cfg
}

func Err() error {
	Get()
	return loadErr
}

func Warnings() []string {
	Get()
	return warnings
}

// Load читает файлы по порядку (следующий перекрывает предыдущий), потом переменные окружения
func Load(files ...string) (Config, error) {
	var c Config

	loader := aconfig.LoaderFor(&c, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "MNB",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}

// Normalize возвращает недопустимые значения к значениям по умолчанию и говорит, что поправил
func (c *Config) Normalize() []string {
	var fixed []string

	fix := func(name string, bad bool, apply func(), def any) {
		if !bad {
			return
		}
		apply()
		fixed = append(fixed, fmt.Sprintf("%s is invalid, using %v", name, def))
	}

	fix("max_cache", c.MaxCache <= 0, func() { c.MaxCache = 50 }, 50)
	fix("fetch_retries", c.FetchRetries < 1, func() { c.FetchRetries = 30 }, 30)
	fix("fetch_retry_delay", c.FetchRetryDelay < 0, func() { c.FetchRetryDelay = 5 * time.Second }, 5*time.Second)
	fix("fetch_timeout", c.FetchTimeout <= 0, func() { c.FetchTimeout = 30 * time.Second }, 30*time.Second)
	fix("digest_threshold", c.DigestThreshold < 1, func() { c.DigestThreshold = 5 }, 5)
	fix("latest_limit", c.LatestLimit < 1, func() { c.LatestLimit = 5 }, 5)
	fix("fetch_interval", c.FetchInterval <= 0, func() { c.FetchInterval = 10 * time.Minute }, 10*time.Minute)
	fix("rate_per_sec", c.RatePerSec < 1, func() { c.RatePerSec = 25 }, 25)
	fix("chat_rate_per_minute", c.ChatRatePerMinute < 1, func() { c.ChatRatePerMinute = 15 }, 15)
	fix("fanout_workers", c.FanoutWorkers < 1, func() { c.FanoutWorkers = 4 }, 4)

	keywords := make([]string, 0, len(c.FilterKeywords))
	for _, k := range c.FilterKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	c.FilterKeywords = keywords

	return fixed
}
