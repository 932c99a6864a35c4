package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
	"github.com/kovalyov-valentin/mal-news-bot/internal/scheduler"
)

const maxLatestLimit = 50

type LatestProvider interface {
	Latest(ctx context.Context, limit int) ([]model.Article, error)
}

type ScheduleController interface {
	RequestSchedule(origin string, interval time.Duration) (bool, error)
	RequestScheduleSpec(origin, spec string) (bool, error)
	RequestCancel(origin string) bool
	Jobs() []scheduler.JobInfo
}

type Server struct {
	latest       LatestProvider
	schedules    ScheduleController
	defaultLimit int
	// Если задан, управляющие ручки требуют Authorization: Bearer <token>
	token string
	log   zerolog.Logger
}

func NewServer(latest LatestProvider, schedules ScheduleController, defaultLimit int, token string, log zerolog.Logger) *Server {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &Server{
		latest:       latest,
		schedules:    schedules,
		defaultLimit: defaultLimit,
		token:        token,
		log:          log.With().Str("component", "api").Logger(),
	}
}

// Router собирает gin движок со всеми ручками
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.health)

	v1 := r.Group("/api")
	{
		v1.GET("/news/latest", s.latestNews)

		schedules := v1.Group("/schedules", s.auth())
		schedules.GET("", s.listSchedules)
		schedules.POST("/:key", s.putSchedule)
		schedules.DELETE("/:key", s.deleteSchedule)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type articleResponse struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary,omitempty"`
	Link           string    `json:"link"`
	PublishedLabel string    `json:"published_label,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	CachedAt       time.Time `json:"cached_at"`
}

func (s *Server) latestNews(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(s.defaultLimit)))
	if err != nil || limit <= 0 {
		limit = s.defaultLimit
	}
	limit = min(limit, maxLatestLimit)

	articles, err := s.latest.Latest(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load latest news")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": "ok",
		"data": lo.Map(articles, func(a model.Article, _ int) articleResponse {
			return articleResponse(a)
		}),
	})
}

type scheduleResponse struct {
	Key       string    `json:"key"`
	Spec      string    `json:"spec"`
	Since     time.Time `json:"since"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func (s *Server) listSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code": "ok",
		"data": lo.Map(s.schedules.Jobs(), func(j scheduler.JobInfo, _ int) scheduleResponse {
			return scheduleResponse(j)
		}),
	})
}

type scheduleRequest struct {
	IntervalSeconds int    `json:"interval_seconds"`
	Spec            string `json:"spec"`
}

func (s *Server) putSchedule(c *gin.Context) {
	key, ok := scheduleKey(c)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": err.Error()})
		return
	}

	var (
		replaced bool
		err      error
	)
	switch {
	case req.Spec != "":
		replaced, err = s.schedules.RequestScheduleSpec(key, req.Spec)
	case req.IntervalSeconds > 0:
		replaced, err = s.schedules.RequestSchedule(key, time.Duration(req.IntervalSeconds)*time.Second)
	default:
		err = scheduler.ErrInvalidInterval
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrInvalidInterval) || errors.Is(err, scheduler.ErrInvalidSpec) {
			status = http.StatusBadRequest
		}
		if errors.Is(err, scheduler.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"code": "schedule_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": "ok", "key": key, "replaced": replaced})
}

func (s *Server) deleteSchedule(c *gin.Context) {
	key, ok := scheduleKey(c)
	if !ok {
		return
	}
	if !s.schedules.RequestCancel(key) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no schedule for key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "key": key})
}

// Ключ из пути одинаково нормализуется при создании и удалении
func scheduleKey(c *gin.Context) (string, bool) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": "empty schedule key"})
		return "", false
	}
	return key, true
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}

		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
