package pipeline

import (
	"time"

	"github.com/kovalyov-valentin/mal-news-bot/internal/scheduler"
)

// Scheduler это то, что нужно контроллеру от планировщика
type Scheduler interface {
	Schedule(key string, interval time.Duration, job scheduler.Job) (bool, error)
	ScheduleSpec(key, spec string, job scheduler.Job) (bool, error)
	Cancel(key string) bool
	Active() []scheduler.JobInfo
}

// Controller принимает запросы на расписание от бота и API и ставит под ключ источника тик пайплайна
type Controller struct {
	scheduler       Scheduler
	pipeline        *Pipeline
	defaultInterval time.Duration
}

func NewController(s Scheduler, p *Pipeline, defaultInterval time.Duration) *Controller {
	return &Controller{
		scheduler:       s,
		pipeline:        p,
		defaultInterval: defaultInterval,
	}
}

// RequestSchedule ставит обновление для origin. interval <= 0 означает интервал по умолчанию
func (c *Controller) RequestSchedule(origin string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = c.defaultInterval
	}
	return c.scheduler.Schedule(origin, interval, c.pipeline.Tick(origin))
}

func (c *Controller) RequestScheduleSpec(origin, spec string) (bool, error) {
	return c.scheduler.ScheduleSpec(origin, spec, c.pipeline.Tick(origin))
}

func (c *Controller) RequestCancel(origin string) bool {
	return c.scheduler.Cancel(origin)
}

func (c *Controller) Jobs() []scheduler.JobInfo {
	return c.scheduler.Active()
}

func (c *Controller) DefaultInterval() time.Duration {
	return c.defaultInterval
}
