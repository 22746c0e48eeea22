package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Syncer is anything that can flush all of its dirty state remotely.
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// AutoSyncer periodically syncs its targets while the remote store is
// reachable, and immediately when it becomes reachable again.
type AutoSyncer struct {
	targets []Syncer
	timeout time.Duration
	log     *zap.SugaredLogger

	online  atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewAutoSyncer(timeout time.Duration, log *zap.SugaredLogger, targets ...Syncer) *AutoSyncer {
	if log == nil {
		log = zap.S()
	}
	a := &AutoSyncer{targets: targets, timeout: timeout, log: log}
	a.online.Store(true)
	return a
}

// Online reports the last connectivity state seen.
func (a *AutoSyncer) Online() bool {
	return a.online.Load()
}

// SetOnline records connectivity. Going from offline to online starts a sync
// right away unless one is already running.
func (a *AutoSyncer) SetOnline(online bool) {
	was := a.online.Swap(online)
	if online && !was {
		a.log.Infow("remote store reachable again, syncing cached data")
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.tick()
		}()
	}
	if !online && was {
		a.log.Warnw("remote store unreachable, pausing automatic sync")
	}
}

// Wait blocks until syncs started by SetOnline have returned.
func (a *AutoSyncer) Wait() {
	a.wg.Wait()
}

// tick runs one sync round. Overlapping rounds are skipped, not queued.
func (a *AutoSyncer) tick() {
	if !a.online.Load() {
		a.log.Debugw("offline, skipping automatic sync")
		return
	}
	if !a.running.CompareAndSwap(false, true) {
		a.log.Debugw("sync already running, skipping")
		return
	}
	defer a.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	for _, t := range a.targets {
		if err := t.SyncAll(ctx); err != nil {
			a.log.Warnw("automatic sync incomplete", "error", err)
		}
	}
}

// Pinger probes the remote store. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Monitor reports remote-store connectivity to a set of listeners.
type Monitor struct {
	pinger    Pinger
	timeout   time.Duration
	listeners []interface{ SetOnline(bool) }
	log       *zap.SugaredLogger
}

func NewMonitor(pinger Pinger, timeout time.Duration, log *zap.SugaredLogger, listeners ...interface{ SetOnline(bool) }) *Monitor {
	if log == nil {
		log = zap.S()
	}
	return &Monitor{pinger: pinger, timeout: timeout, listeners: listeners, log: log}
}

// Probe pings once and notifies every listener.
func (m *Monitor) Probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := m.pinger.PingContext(ctx)
	if err != nil {
		m.log.Debugw("connectivity probe failed", "error", err)
	}
	for _, l := range m.listeners {
		l.SetOnline(err == nil)
	}
}

// Scheduler runs the automatic sync and the connectivity probe on cron.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.SugaredLogger
}

func NewScheduler(log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.S()
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log,
	}
}

// Every registers fn to run at a fixed interval (one second minimum).
func (s *Scheduler) Every(interval time.Duration, name string, fn func()) error {
	if interval < time.Second {
		return fmt.Errorf("%s: interval %s is below one second", name, interval)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), fn); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.log.Infow("scheduled job", "job", name, "interval", interval)
	return nil
}

// ScheduleAutoSync registers both jobs. monitor may be nil.
func (s *Scheduler) ScheduleAutoSync(a *AutoSyncer, syncEvery time.Duration, m *Monitor, probeEvery time.Duration) error {
	if err := s.Every(syncEvery, "autosync", a.tick); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	return s.Every(probeEvery, "connectivity-probe", m.Probe)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("sync scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("sync scheduler stopped")
}
