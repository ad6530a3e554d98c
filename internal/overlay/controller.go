// Package overlay drives MPD from OBS source activity and keeps the source's
// text in sync with the playing track.
//
// A Controller is not safe for concurrent use. The daemon calls every method
// from one goroutine, so handlers run one at a time and to completion.
package overlay

import (
	"context"

	"mpdoverlay/internal/config"
	"mpdoverlay/internal/mpdclient"
	"mpdoverlay/internal/render"
	"mpdoverlay/internal/report"
)

// Host is the OBS side: find a source and rewrite its text.
type Host interface {
	HasSource(ctx context.Context, name string) (bool, error)
	SetText(ctx context.Context, name, text string) error
	TextSources(ctx context.Context) ([]string, error)
}

// Handler receives source lifecycle events from a dispatcher.
type Handler interface {
	OnActivate(source string)
	OnDeactivate(source string)
}

// Status is a snapshot for the control surfaces.
type Status struct {
	Connected   bool   `json:"connected"`
	Initialized bool   `json:"initialized"`
	Source      string `json:"source"`
	Address     string `json:"address"`
	Text        string `json:"text"`
}

type Controller struct {
	cfg         config.Config
	mpd         *mpdclient.Manager
	host        Host
	rep         *report.Reporter
	initialized bool
	lastText    string
}

var _ Handler = (*Controller)(nil)

func New(mpd *mpdclient.Manager, host Host, rep *report.Reporter) *Controller {
	return &Controller{mpd: mpd, host: host, rep: rep, cfg: config.Default()}
}

// Config returns the settings currently in effect.
func (c *Controller) Config() config.Config { return c.cfg }

// Initialized reports whether the setup sequence has run since the last
// connect/reset.
func (c *Controller) Initialized() bool { return c.initialized }

func (c *Controller) Load() {
	c.rep.Infof("Script loading.")
}

// Unload forgets setup state and closes the MPD session.
func (c *Controller) Unload() {
	c.rep.Infof("Script unloading.")
	c.initialized = false
	c.mpd.Disconnect()
} // func (c *Controller) Unload()

// Update installs a new configuration. If setup has not run yet it connects
// and, once connected, runs it.
func (c *Controller) Update(cfg config.Config) {
	c.rep.Verbosef("Script updating.")
	c.cfg = cfg
	c.rep.SetVerbose(cfg.Verbose)

	network, addr := cfg.MPDAddr()
	c.mpd.SetTarget(mpdclient.Target{Network: network, Addr: addr, Password: cfg.Password})

	if !c.initialized {
		c.mpd.Connect()
		if c.mpd.IsConnected() {
			c.initialize()
		}
	}
} // func (c *Controller) Update(cfg config.Config)

// Reconnect is the manual "reconnect and reset" action.
func (c *Controller) Reconnect() bool {
	c.initialized = false
	if !c.mpd.Connect() {
		return false
	}
	c.initialize()
	return true
}

func (c *Controller) initialize() {
	c.rep.Check("initialize", mpdclient.Initialize(c.mpd), report.Error)
	c.initialized = true
}

// OnActivate starts playback when the target source goes live.
func (c *Controller) OnActivate(source string) {
	if !c.targets(source) {
		return
	}
	c.rep.Verbosef("Source %q activated. Sending the play command.", source)
	if !c.mpd.Ensure() {
		c.rep.Errorf("Connection to MPD lost. Cannot send play command.")
		return
	}
	c.rep.Check("play", mpdclient.Start(c.mpd), report.Warn)
} // func (c *Controller) OnActivate(source string)

// OnDeactivate skips ahead and stops when the target source goes off air.
// Duplicate events each send the sequence again.
func (c *Controller) OnDeactivate(source string) {
	if !c.targets(source) {
		return
	}
	c.rep.Verbosef("Source %q deactivated. Sending the stop command.", source)
	if !c.mpd.Ensure() {
		c.rep.Errorf("Connection to MPD lost. Cannot send stop command.")
		return
	}
	c.rep.Check("stop", mpdclient.StopSequence(c.mpd), report.Warn)
} // func (c *Controller) OnDeactivate(source string)

func (c *Controller) targets(source string) bool {
	return c.initialized && c.cfg.Source != "" && source == c.cfg.Source
}

// Tick refreshes the overlay text once.
func (c *Controller) Tick(ctx context.Context) {
	target := c.cfg.Source
	if target == "" {
		return
	}
	ok, err := c.host.HasSource(ctx, target)
	if err != nil {
		c.rep.Verbosef("[tick] looking up %q: %v", target, err)
		return
	}
	if !ok {
		return
	}

	text := ""
	if !c.mpd.Ensure() {
		c.rep.Warnf("Connection to MPD lost. Clearing the text source")
	} else if song, err := c.mpd.CurrentSong(); err != nil {
		c.rep.Warnf("Fetching current song failed, clearing the text source: %v", err)
	} else {
		text = render.Render(c.cfg.Template, song)
	}

	if c.rep.Check("set text of "+target, c.host.SetText(ctx, target, text), report.Warn) {
		c.lastText = text
	}
} // func (c *Controller) Tick(ctx context.Context)

// Preview renders the template against the current song without touching OBS.
func (c *Controller) Preview() (string, error) {
	if !c.mpd.Ensure() {
		return "", mpdclient.ErrNotConnected
	}
	song, err := c.mpd.CurrentSong()
	if err != nil {
		return "", err
	}
	return render.Render(c.cfg.Template, song), nil
}

// Sources lists the text sources OBS knows about.
func (c *Controller) Sources(ctx context.Context) ([]string, error) {
	return c.host.TextSources(ctx)
}

// CheckSource warns when the configured source is not a text source in OBS.
func (c *Controller) CheckSource(ctx context.Context) {
	if c.cfg.Source == "" {
		c.rep.Warnf("No text source configured; overlay updates are off")
		return
	}
	names, err := c.host.TextSources(ctx)
	if err != nil {
		c.rep.Verbosef("[check] listing text sources: %v", err)
		return
	}
	for _, n := range names {
		if n == c.cfg.Source {
			return
		}
	}
	c.rep.Warnf("Text source %q not found in OBS (have %v)", c.cfg.Source, names)
} // func (c *Controller) CheckSource(ctx context.Context)

// Status pings MPD and reports the controller state.
func (c *Controller) Status() Status {
	_, addr := c.cfg.MPDAddr()
	return Status{
		Connected:   c.mpd.IsConnected(),
		Initialized: c.initialized,
		Source:      c.cfg.Source,
		Address:     addr,
		Text:        c.lastText,
	}
}
