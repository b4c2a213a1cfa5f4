package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/model"
	"github.com/redsquare/screen-booking/internal/websocket"
)

// Heartbeater reports player liveness to the API.
type Heartbeater interface {
	Heartbeat(ctx context.Context, status, appVersion string) error
}

// AgentConfig configures the jobs of a player Agent.
type AgentConfig struct {
	ScreenID       uint64
	RefreshEvery   time.Duration
	TickEvery      time.Duration
	HeartbeatEvery time.Duration
	AppVersion     string
	PushURL        string // websocket endpoint; empty disables push
	Token          string
}

// State is what the player shows at one tick.
type State struct {
	Current *model.ContentItem
	File    string // local path of Current, empty when not cached yet
	Next    *model.ContentItem
}

// Agent drives a Scheduler on a timetable: it refreshes and caches the
// schedule, decides what plays each tick and sends heartbeats. A
// schedule.updated push triggers an immediate refresh.
type Agent struct {
	cfg    AgentConfig
	sched  *Scheduler
	hb     Heartbeater
	logger *zap.Logger
	cron   *cron.Cron

	refreshing atomic.Bool

	mu      sync.Mutex
	showing uint64 // id of the item shown at the last tick, 0 for none
}

func NewAgent(cfg AgentConfig, sched *Scheduler, hb Heartbeater, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{cfg: cfg, sched: sched, hb: hb, logger: logger, cron: cron.New(cron.WithSeconds())}
}

// Run refreshes once, schedules the jobs and blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.Refresh(ctx)

	jobs := []struct {
		every time.Duration
		fn    func()
	}{
		{a.cfg.RefreshEvery, func() { a.Refresh(ctx) }},
		{a.cfg.TickEvery, func() { a.Tick() }},
		{a.cfg.HeartbeatEvery, func() { a.Heartbeat(ctx) }},
	}
	for _, j := range jobs {
		if j.every <= 0 {
			continue
		}
		if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", j.every), j.fn); err != nil {
			return fmt.Errorf("schedule job: %w", err)
		}
	}
	a.cron.Start()
	a.logger.Info("player started", zap.Uint64("screen_id", a.cfg.ScreenID))

	if a.cfg.PushURL != "" {
		go websocket.Listen(ctx, a.cfg.PushURL, a.cfg.Token, a.logger.Named("push"), func(m websocket.Message) {
			a.HandlePush(ctx, m)
		})
	}

	<-ctx.Done()
	<-a.cron.Stop().Done()
	a.logger.Info("player stopped")
	return nil
}

// Refresh fetches the schedule and caches its content. Calls that overlap a
// running refresh return immediately. A failed fetch still caches the
// previous schedule.
func (a *Agent) Refresh(ctx context.Context) {
	if !a.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer a.refreshing.Store(false)

	if err := a.sched.FetchSchedule(ctx, a.cfg.ScreenID); err != nil {
		a.logger.Warn("schedule refresh failed", zap.Error(err))
	}
	if err := a.sched.CacheAllContent(ctx, nil); err != nil {
		a.logger.Warn("content caching incomplete", zap.Int("failures", len(multierr.Errors(err))), zap.Error(err))
	}
}

// Tick decides what plays now and logs transitions.
func (a *Agent) Tick() State {
	var st State
	if cur, ok := a.sched.Current(); ok {
		st.Current = &cur
		if e, ok := a.sched.Cached(cur.ID); ok {
			st.File = e.Path
		}
	}
	if next, ok := a.sched.Next(); ok {
		st.Next = &next
	}

	var id uint64
	if st.Current != nil {
		id = st.Current.ID
	}
	a.mu.Lock()
	changed := id != a.showing
	a.showing = id
	a.mu.Unlock()

	if changed {
		switch {
		case st.Current == nil:
			a.logger.Info("idle")
		case st.File == "":
			a.logger.Warn("scheduled content not cached yet", zap.Uint64("content_id", id))
		default:
			a.logger.Info("now playing", zap.Uint64("content_id", id), zap.String("type", string(st.Current.Type)), zap.String("file", st.File))
		}
	}
	return st
}

// Heartbeat reports the player as online.
func (a *Agent) Heartbeat(ctx context.Context) {
	if a.hb == nil {
		return
	}
	if err := a.hb.Heartbeat(ctx, "online", a.cfg.AppVersion); err != nil {
		a.logger.Warn("heartbeat failed", zap.Error(err))
	}
}

// HandlePush reacts to a push message.
func (a *Agent) HandlePush(ctx context.Context, m websocket.Message) {
	if m.Type != websocket.TypeScheduleUpdated {
		return
	}
	a.logger.Info("schedule change pushed; refreshing")
	go a.Refresh(ctx)
}
