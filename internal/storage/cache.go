package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

const (
	latestVersionKey = "news:latest:ver"
	latestTTL        = 5 * time.Minute
)

type ArticleStore interface {
	Ingest(ctx context.Context, items []model.Item, maxCache int) (model.IngestResult, error)
	Latest(ctx context.Context, limit int) ([]model.Article, error)
}

// CachedArticles держит ответы Latest в redis. Любая успешная вставка новых статей
// поднимает версию, так что старые ключи больше не читаются и умирают по TTL.
// Если redis недоступен, запросы идут напрямую в базу.
type CachedArticles struct {
	store ArticleStore
	rdb   redis.Cmdable
	log   zerolog.Logger
}

func NewCachedArticles(store ArticleStore, rdb redis.Cmdable, log zerolog.Logger) *CachedArticles {
	return &CachedArticles{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "latest_cache").Logger(),
	}
}

func (c *CachedArticles) Ingest(ctx context.Context, items []model.Item, maxCache int) (model.IngestResult, error) {
	result, err := c.store.Ingest(ctx, items, maxCache)
	if err != nil {
		return result, err
	}

	if result.NewCount > 0 || result.Evicted > 0 {
		if err := c.rdb.Incr(ctx, latestVersionKey).Err(); err != nil {
			c.log.Warn().Err(err).Msg("failed to bump latest version")
		}
	}

	return result, nil
}

func (c *CachedArticles) Latest(ctx context.Context, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = defaultLatestLimit
	}

	key, err := c.latestKey(ctx, limit)
	if err != nil {
		c.log.Debug().Err(err).Msg("latest cache unavailable")
		return c.store.Latest(ctx, limit)
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var articles []model.Article
		if err := json.Unmarshal(raw, &articles); err == nil {
			return articles, nil
		}
		c.log.Warn().Str("key", key).Msg("broken latest cache entry")
	} else if !errors.Is(err, redis.Nil) {
		c.log.Debug().Err(err).Msg("latest cache read failed")
	}

	articles, err := c.store.Latest(ctx, limit)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(articles); err == nil {
		if err := c.rdb.Set(ctx, key, payload, latestTTL).Err(); err != nil {
			c.log.Debug().Err(err).Msg("latest cache write failed")
		}
	}

	return articles, nil
}

func (c *CachedArticles) latestKey(ctx context.Context, limit int) (string, error) {
	ver, err := c.rdb.Get(ctx, latestVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return "news:latest:" + strconv.FormatInt(ver, 10) + ":" + strconv.Itoa(limit), nil
}
