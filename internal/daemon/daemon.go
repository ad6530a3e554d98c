// Package daemon runs the event loop that serializes everything the overlay
// controller does: OBS events, poll ticks, config reloads and control
// requests all execute on the goroutine inside Run.
package daemon

import (
	"context"
	"errors"
	"time"

	"mpdoverlay/internal/config"
	"mpdoverlay/internal/obsws"
	"mpdoverlay/internal/overlay"
	"mpdoverlay/internal/report"
)

// OBSRetry is how often a lost OBS connection is retried.
const OBSRetry = 2 * time.Second

var ErrStopped = errors.New("daemon is not running")

// OBS is the host connection the loop owns.
type OBS interface {
	overlay.Host
	Connect(ctx context.Context) error
	Connected() bool
	Events() <-chan obsws.Event
	Close() error
}

// Status is what the control surfaces report.
type Status struct {
	overlay.Status
	OBSConnected bool `json:"obs_connected"`
}

type Daemon struct {
	Version string

	ctrl  *overlay.Controller
	obs   OBS
	rep   *report.Reporter
	retry time.Duration

	requests chan func(context.Context)
	reloads  chan config.Config
	running  chan struct{}
	stopped  chan struct{}

	obsUp bool
}

func New(ctrl *overlay.Controller, obs OBS, rep *report.Reporter) *Daemon {
	return &Daemon{
		Version:  "dev",
		ctrl:     ctrl,
		obs:      obs,
		rep:      rep,
		retry:    OBSRetry,
		requests: make(chan func(context.Context)),
		reloads:  make(chan config.Config, 1),
		running:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run loads the controller with cfg and dispatches until ctx is done. On
// return the controller is unloaded and OBS closed.
func (d *Daemon) Run(ctx context.Context, cfg config.Config) error {
	defer close(d.stopped)

	d.ctrl.Load()
	defer func() {
		d.ctrl.Unload()
		d.obs.Close()
	}()

	d.ctrl.Update(cfg)
	d.connectOBS(ctx)
	poll := newPoller(d.ctrl.Config())
	defer func() { poll.stop() }()

	retry := time.NewTicker(d.retry)
	defer retry.Stop()

	close(d.running)
	for {
		select {
		case <-ctx.Done():
			d.rep.Infof("[daemon] shutting down")
			return nil

		case ev := <-d.obs.Events():
			d.dispatch(ev)

		case <-poll.c():
			d.ctrl.Tick(ctx)

		case fn := <-d.requests:
			fn(ctx)

		case cfg := <-d.reloads:
			d.ctrl.Update(cfg)
			poll.stop()
			poll = newPoller(d.ctrl.Config())
			if d.obsUp {
				d.ctrl.CheckSource(ctx)
			}

		case <-retry.C:
			if d.obs.Connected() {
				continue
			}
			if d.obsUp {
				d.obsUp = false
				d.rep.Warnf("[obs] connection lost; retrying every %v", d.retry)
			}
			d.connectOBS(ctx)
		}
	}
} // func (d *Daemon) Run(ctx context.Context, cfg config.Config) error

func (d *Daemon) dispatch(ev obsws.Event) {
	var h overlay.Handler = d.ctrl
	switch ev.Type {
	case obsws.Activated:
		h.OnActivate(ev.Source)
	case obsws.Deactivated:
		h.OnDeactivate(ev.Source)
	}
}

// connectOBS logs only on transitions so a missing OBS does not flood the log.
func (d *Daemon) connectOBS(ctx context.Context) {
	err := d.obs.Connect(ctx)
	switch {
	case err == nil && !d.obsUp:
		d.obsUp = true
		d.rep.Infof("[obs] connected")
		d.ctrl.CheckSource(ctx)
	case err != nil && d.obsUp:
		d.obsUp = false
		d.rep.Warnf("[obs] connection lost: %v; retrying every %v", err, d.retry)
	case err != nil:
		d.rep.Verbosef("[obs] connect failed: %v", err)
	}
} // func (d *Daemon) connectOBS(ctx context.Context)

// Reload queues a settings update. A pending, not yet applied update is
// replaced.
func (d *Daemon) Reload(cfg config.Config) {
	for {
		select {
		case d.reloads <- cfg:
			return
		default:
		}
		select {
		case <-d.reloads:
		default:
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (d *Daemon) do(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	wrapped := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	}

	select {
	case d.requests <- wrapped:
	case <-d.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
} // func (d *Daemon) do(ctx context.Context, fn func(context.Context)) error

// Status snapshots controller and OBS state.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	var st Status
	err := d.do(ctx, func(context.Context) {
		st = d.status()
	})
	return st, err
}

func (d *Daemon) status() Status {
	return Status{Status: d.ctrl.Status(), OBSConnected: d.obs.Connected()}
}

// Reconnect performs the manual reconnect-and-initialize action.
func (d *Daemon) Reconnect(ctx context.Context) (Status, error) {
	var st Status
	var ok bool
	err := d.do(ctx, func(context.Context) {
		ok = d.ctrl.Reconnect()
		st = d.status()
	})
	if err == nil && !ok {
		err = errors.New("reconnect to mpd failed")
	}
	return st, err
}

// Sources lists OBS text sources.
func (d *Daemon) Sources(ctx context.Context) ([]string, error) {
	var names []string
	var serr error
	err := d.do(ctx, func(loopCtx context.Context) {
		names, serr = d.ctrl.Sources(loopCtx)
	})
	if err != nil {
		return nil, err
	}
	return names, serr
}

// Preview renders the template against the current song.
func (d *Daemon) Preview(ctx context.Context) (string, error) {
	var text string
	var perr error
	err := d.do(ctx, func(context.Context) {
		text, perr = d.ctrl.Preview()
	})
	if err != nil {
		return "", err
	}
	return text, perr
}

// Running is closed once Run has finished its startup sequence.
func (d *Daemon) Running() <-chan struct{} { return d.running }

// poller is the reinstallable poll timer. No source means no timer.
type poller struct {
	t *time.Ticker
}

func newPoller(cfg config.Config) *poller {
	if cfg.Source == "" {
		return &poller{}
	}
	every := cfg.PollInterval()
	if every <= 0 {
		every = config.DefaultInterval * time.Millisecond
	}
	return &poller{t: time.NewTicker(every)}
}

func (p *poller) c() <-chan time.Time {
	if p.t == nil {
		return nil
	}
	return p.t.C
}

func (p *poller) stop() {
	if p.t != nil {
		p.t.Stop()
	}
}
