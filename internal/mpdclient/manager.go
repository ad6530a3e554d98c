// Package mpdclient owns the single session to the MPD server.
//
// Nothing holds the session across operations: every caller re-checks liveness
// and reconnects on demand through Ensure, so a restarted MPD is picked up on
// the next event.
package mpdclient

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"mpdoverlay/internal/report"
)

// DefaultTimeout bounds the dial probe and every command.
const DefaultTimeout = time.Second

var (
	ErrNotConnected = errors.New("not connected to mpd")
	ErrTimeout      = errors.New("mpd command timed out")
)

// Batch is a command list sent as one unit. *mpd.CommandList satisfies it.
type Batch interface {
	Play(pos int)
	Stop()
	Next()
	End() error
}

// Client is the subset of *mpd.Client the daemon drives.
type Client interface {
	Ping() error
	Close() error
	CurrentSong() (mpd.Attrs, error)
	Stop() error
	Clear() error
	Update(uri string) (int, error)
	Add(uri string) error
	Random(on bool) error
	SetVolume(volume int) error
	Repeat(on bool) error
	Consume(on bool) error
	Single(on bool) error
	Play(pos int) error
	Pause(pause bool) error
	Next() error
	BeginBatch() Batch
}

// Dialer opens an authenticated session.
type Dialer func(network, addr, password string) (Client, error)

// Prober checks that addr accepts connections within timeout.
type Prober func(network, addr string, timeout time.Duration) error

type gompdClient struct {
	*mpd.Client
}

func (c gompdClient) BeginBatch() Batch { return c.Client.BeginCommandList() }

// DialGompd is the production Dialer.
func DialGompd(network, addr, password string) (Client, error) {
	c, err := mpd.DialAuthenticated(network, addr, password)
	if err != nil {
		return nil, err
	}
	return gompdClient{c}, nil
}

// ProbeNet dials and immediately closes a raw connection. gompd has no dial
// timeout of its own, so this keeps an unreachable host from stalling us.
func ProbeNet(network, addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Target is where and how to connect.
type Target struct {
	Network  string
	Addr     string
	Password string
}

func (t Target) String() string { return t.Addr }

// Manager holds at most one session. It is not safe for concurrent use; the
// daemon drives it from a single goroutine.
type Manager struct {
	dial    Dialer
	probe   Prober
	rep     *report.Reporter
	timeout time.Duration

	target Target
	client Client
}

// NewManager returns a disconnected Manager. A nil dial or probe selects the
// gompd/net implementations.
func NewManager(rep *report.Reporter, dial Dialer, probe Prober) *Manager {
	if dial == nil {
		dial = DialGompd
	}
	if probe == nil {
		probe = ProbeNet
	}
	return &Manager{dial: dial, probe: probe, rep: rep, timeout: DefaultTimeout}
}

// SetTarget changes where the next Connect goes. The current session is kept.
func (m *Manager) SetTarget(t Target) { m.target = t }

// SetTimeout overrides DefaultTimeout.
func (m *Manager) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

// IsConnected pings the session. It never fails loudly: errors only show up
// in verbose logs.
func (m *Manager) IsConnected() bool {
	if m.client == nil {
		m.rep.Verbosef("Not connected to MPD")
		return false
	}
	if err := m.Do("ping", func(c Client) error { return c.Ping() }); err != nil {
		m.rep.Verbosef("Not connected to MPD: %v", err)
		return false
	}
	m.rep.Verbosef("Got a ping reply from MPD.")
	return true
} // func (m *Manager) IsConnected() bool

// Connect drops any session and opens a fresh authenticated one.
func (m *Manager) Connect() bool {
	m.Disconnect()

	t := m.target
	m.rep.Verbosef("Connecting to MPD at %s", t)

	err := m.probe(t.Network, t.Addr, m.timeout)
	if err == nil {
		var c Client
		c, err = m.dialTimeout(t)
		if err == nil {
			m.client = c
		}
	}
	return m.rep.Check(fmt.Sprintf("connection to %s", t), err, report.Error)
} // func (m *Manager) Connect() bool

// dialTimeout runs the dialer under the manager timeout. A dial that finishes
// after the deadline has its client closed.
func (m *Manager) dialTimeout(t Target) (Client, error) {
	type result struct {
		c   Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := m.dial(t.Network, t.Addr, t.Password)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		return r.c, r.err
	case <-time.After(m.timeout):
		go func() {
			if r := <-done; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, ErrTimeout
	}
} // func (m *Manager) dialTimeout(t Target) (Client, error)

// Ensure returns true when a session is live, reconnecting once if needed.
func (m *Manager) Ensure() bool {
	return m.IsConnected() || m.Connect()
}

// Disconnect closes the session. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	if m.client == nil {
		return
	}
	c := m.client
	m.client = nil
	if err := c.Close(); err != nil {
		m.rep.Verbosef("closing MPD session: %v", err)
	}
} // func (m *Manager) Disconnect()

// Do runs fn against the session under the command timeout. A command that
// times out leaves the protocol stream in an unknown state, so the session is
// dropped.
func (m *Manager) Do(op string, fn func(Client) error) error {
	c := m.client
	if c == nil {
		return ErrNotConnected
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(c)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-time.After(m.timeout):
		m.Disconnect()
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
} // func (m *Manager) Do(op string, fn func(Client) error) error

// CurrentSong returns the playing track with lowercased tag names.
func (m *Manager) CurrentSong() (map[string]string, error) {
	var song mpd.Attrs
	err := m.Do("currentsong", func(c Client) error {
		var err error
		song, err = c.CurrentSong()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(song))
	for k, v := range song {
		out[strings.ToLower(k)] = v
	}
	return out, nil
} // func (m *Manager) CurrentSong() (map[string]string, error)
