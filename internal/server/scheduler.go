package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/store"
)

// Scheduler fires recurring explorations. Every tick it checks which
// schedules are due and launches them; a redis lock keeps multiple replicas
// from firing the same schedule.
type Scheduler struct {
	Store    *store.Store
	Rdb      *redis.Client
	Launcher *Launcher
	Stop     chan struct{}
	Logger   *log.Logger

	// Interval between due checks; zero selects one minute.
	Interval time.Duration
}

func (s *Scheduler) Start() {
	every := s.Interval
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	schedules, err := s.Store.ListSchedules(ctx)
	if err != nil {
		s.Logger.Printf("listing schedules: %v", err)
		return
	}
	now := time.Now()
	for _, sc := range schedules {
		if !sc.Enabled || !isDue(sc.Cron, sc.LastRunAt, now) {
			continue
		}
		if !s.acquire(ctx, sc.ID) {
			continue
		}
		var p problem.Problem
		if err := yaml.Unmarshal([]byte(sc.Problem), &p); err != nil {
			s.Logger.Printf("schedule %s: bad problem yaml: %v", sc.ID, err)
			continue
		}
		if p.Title == "" {
			p.Title = sc.Title
		}
		if len(p.Criteria) == 0 {
			p.Criteria = problem.DefaultCriteria()
		}
		if err := s.Store.TouchSchedule(ctx, sc.ID, now); err != nil {
			s.Logger.Printf("schedule %s: touch: %v", sc.ID, err)
		}
		runID, err := s.Launcher.Start(&p)
		if err != nil {
			s.Logger.Printf("schedule %s: launch: %v", sc.ID, err)
			continue
		}
		s.Logger.Printf("schedule %s fired run %s", sc.ID, runID)
	}
}

// acquire takes the distributed lock for a schedule. Without redis the
// single-replica deployment needs no lock.
func (s *Scheduler) acquire(ctx context.Context, scheduleID string) bool {
	if s.Rdb == nil {
		return true
	}
	ok, err := s.Rdb.SetNX(ctx, "ideaforge:sched:lock:"+scheduleID, "1", 2*time.Minute).Result()
	if err != nil {
		s.Logger.Printf("schedule %s: lock: %v", scheduleID, err)
		return false
	}
	return ok
}

// isDue reports whether a schedule with the given cron spec should fire now.
// Supports "@daily", "@hourly", and standard 5-field cron expressions; an
// unparseable spec falls back to daily.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	switch cronSpec {
	case "@daily":
		return last == nil || now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return last == nil || now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return last == nil || now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.IsZero() && !next.After(now)
	}
}
