package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidSpec     = errors.New("invalid schedule spec")
	ErrStopped         = errors.New("scheduler stopped")
)

// Job это один тик пайплайна
type Job func(ctx context.Context) error

// Reporter получает упавшие тики. Таймер при этом продолжает работать
type Reporter interface {
	ReportFailure(ctx context.Context, title string, fields map[string]any, err error)
}

type JobInfo struct {
	Key       string
	Spec      string
	Since     time.Time
	Runs      int64
	Failures  int64
	LastRun   time.Time
	LastError string
}

// Scheduler держит не больше одного таймера на ключ.
// Тики одного ключа никогда не идут параллельно: новый таймер ждет, пока старый доработает текущий тик.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopped bool

	// Снятые таймеры, чей последний тик еще идет
	draining map[string]chan struct{}

	// Тики выполняются в корневом контексте, чтобы отмена таймера не обрывала уже идущий тик
	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup

	parser   cron.Parser
	reporter Reporter
	log      zerolog.Logger
}

type entry struct {
	key      string
	spec     string
	schedule cron.Schedule
	job      Job
	since    time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	runs      int64
	failures  int64
	lastRun   time.Time
	lastError string
}

func New(reporter Reporter, log zerolog.Logger) *Scheduler {
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		entries:    make(map[string]*entry),
		draining:   make(map[string]chan struct{}),
		root:       root,
		cancelRoot: cancel,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		reporter:   reporter,
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule ставит job на каждые interval. Если по ключу уже был таймер, он заменяется и возвращается true
func (s *Scheduler) Schedule(key string, interval time.Duration, job Job) (bool, error) {
	if interval <= 0 {
		return false, ErrInvalidInterval
	}
	return s.install(key, interval.String(), every(interval), job)
}

// ScheduleSpec принимает cron выражение из пяти полей или дескриптор вроде @hourly, @every 10m
func (s *Scheduler) ScheduleSpec(key, spec string, job Job) (bool, error) {
	spec = strings.TrimSpace(spec)
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, spec, err)
	}
	return s.install(key, spec, schedule, job)
}

func (s *Scheduler) install(key, spec string, schedule cron.Schedule, job Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false, ErrStopped
	}

	var prevDone <-chan struct{}
	prev, replaced := s.entries[key]
	if replaced {
		prev.cancel()
		prevDone = prev.done
	} else if done, ok := s.draining[key]; ok {
		prevDone = done
	}

	ctx, cancel := context.WithCancel(s.root)
	e := &entry{
		key:      key,
		spec:     spec,
		schedule: schedule,
		job:      job,
		since:    time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.entries[key] = e

	s.wg.Add(1)
	go s.loop(ctx, e, prevDone)

	s.log.Info().Str("key", key).Str("spec", spec).Bool("replaced", replaced).Msg("job scheduled")

	return replaced, nil
}

// Cancel снимает таймер. Идущий тик доработает до конца
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.cancel()
	delete(s.entries, key)
	s.draining[key] = e.done

	s.log.Info().Str("key", key).Msg("job cancelled")

	return true
}

// Active отдает активные таймеры, отсортированные по ключу
func (s *Scheduler) Active() []JobInfo {
	s.mu.Lock()
	infos := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		infos = append(infos, e.info())
	}
	s.mu.Unlock()

	slices.SortFunc(infos, func(a, b JobInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return infos
}

// Stop снимает все таймеры, обрывает идущие тики и ждет их завершения
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for key, e := range s.entries {
		e.cancel()
		delete(s.entries, key)
	}
	s.cancelRoot()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e *entry, prevDone <-chan struct{}) {
	defer s.wg.Done()
	defer s.drained(e)

	// Предыдущий таймер уже отменен, ждем только его текущий тик.
	// Ждем даже если нас самих отменили: иначе следующий таймер запустится раньше времени
	if prevDone != nil {
		<-prevDone
	}

	// Первый тик сразу, дальше по расписанию
	for {
		if ctx.Err() != nil {
			return
		}
		// Следующий тик считаем от начала текущего. Если он уже просрочен, таймер сработает сразу
		start := time.Now()
		s.tick(e)

		next := e.schedule.Next(start)
		if next.IsZero() {
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) drained(e *entry) {
	close(e.done)

	s.mu.Lock()
	if s.draining[e.key] == e.done {
		delete(s.draining, e.key)
	}
	s.mu.Unlock()
}

func (s *Scheduler) tick(e *entry) {
	start := time.Now()
	err := runJob(s.root, e.job)
	e.record(start, err)

	log := s.log.With().Str("key", e.key).Dur("took", time.Since(start)).Logger()

	if err == nil {
		log.Debug().Msg("tick finished")
		return
	}

	if errors.Is(err, context.Canceled) && s.root.Err() != nil {
		log.Debug().Msg("tick interrupted by shutdown")
		return
	}

	log.Error().Err(err).Msg("tick failed")

	if s.reporter != nil {
		fields := map[string]any{
			"key":  e.key,
			"spec": e.spec,
		}
		var p *panicError
		if errors.As(err, &p) {
			fields["stack"] = p.stack
		}
		s.reporter.ReportFailure(s.root, "Scheduled tick failed", fields, err)
	}
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p, stack: string(debug.Stack())}
		}
	}()
	return job(ctx)
}

func (e *entry) record(at time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.runs++
	e.lastRun = at
	if err != nil {
		e.failures++
		e.lastError = err.Error()
		return
	}
	e.lastError = ""
}

func (e *entry) info() JobInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return JobInfo{
		Key:       e.key,
		Spec:      e.spec,
		Since:     e.since,
		Runs:      e.runs,
		Failures:  e.failures,
		LastRun:   e.lastRun,
		LastError: e.lastError,
	}
}

// every это фиксированный интервал в виде cron.Schedule
type every time.Duration

func (d every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
