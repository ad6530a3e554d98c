// Package mpdtest provides an in-memory stand-in for an MPD server.
package mpdtest

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"mpdoverlay/internal/mpdclient"
)

var ErrUnreachable = errors.New("connection refused")

// Server records every command sent by any session it handed out.
type Server struct {
	mu sync.Mutex

	Down     bool              // probe and dial fail
	Password string            // required password, empty for none
	Fail     map[string]error  // command name -> error
	Delay    map[string]time.Duration
	Song     map[string]string // currentsong reply

	calls    []string
	dials    int
	sessions []*Session
}

func NewServer() *Server {
	return &Server{Fail: map[string]error{}, Delay: map[string]time.Duration{}}
}

// Set mutates the server under its lock.
func (s *Server) Set(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Probe implements mpdclient.Prober.
func (s *Server) Probe(network, addr string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Down {
		return ErrUnreachable
	}
	return nil
}

// Dial implements mpdclient.Dialer.
func (s *Server) Dial(network, addr, password string) (mpdclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.Down {
		return nil, ErrUnreachable
	}
	if s.Password != "" && password != s.Password {
		return nil, errors.New("command 'password' failed: incorrect password")
	}
	sess := &Session{srv: s}
	s.sessions = append(s.sessions, sess)
	return sess, nil
}

// Calls returns the commands received so far, pings excluded.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		if c != "ping" {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded commands.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Kill drops every open session, as if MPD restarted.
func (s *Server) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.dead = true
	}
}

func (s *Server) run(sess *Session, name string) error {
	s.mu.Lock()
	delay := s.Delay[name]
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.closed || sess.dead || s.Down {
		return errors.New("broken pipe")
	}
	s.calls = append(s.calls, name)
	return s.Fail[name]
}

// Session is one fake connection.
type Session struct {
	srv    *Server
	closed bool
	dead   bool
}

func (c *Session) Ping() error { return c.srv.run(c, "ping") }

func (c *Session) Close() error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Session) CurrentSong() (mpd.Attrs, error) {
	if err := c.srv.run(c, "currentsong"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	attrs := mpd.Attrs{}
	for k, v := range c.srv.Song {
		attrs[k] = v
	}
	return attrs, nil
}

func (c *Session) Stop() error  { return c.srv.run(c, "stop") }
func (c *Session) Clear() error { return c.srv.run(c, "clear") }
func (c *Session) Next() error  { return c.srv.run(c, "next") }

func (c *Session) Update(uri string) (int, error) {
	if err := c.srv.run(c, "update"); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *Session) Add(uri string) error        { return c.srv.run(c, "add "+uri) }
func (c *Session) Random(on bool) error        { return c.srv.run(c, "random "+onOff(on)) }
func (c *Session) SetVolume(volume int) error  { return c.srv.run(c, "setvol") }
func (c *Session) Repeat(on bool) error        { return c.srv.run(c, "repeat "+onOff(on)) }
func (c *Session) Consume(on bool) error       { return c.srv.run(c, "consume "+onOff(on)) }
func (c *Session) Single(on bool) error        { return c.srv.run(c, "single "+onOff(on)) }
func (c *Session) Play(pos int) error          { return c.srv.run(c, "play") }
func (c *Session) Pause(pause bool) error      { return c.srv.run(c, "pause "+onOff(pause)) }
func (c *Session) BeginBatch() mpdclient.Batch { return &batch{sess: c} }

// batch records queued commands and sends them as "list[a b]" on End.
type batch struct {
	sess *Session
	cmds []string
}

func (b *batch) Play(pos int) { b.cmds = append(b.cmds, "play") }
func (b *batch) Stop()        { b.cmds = append(b.cmds, "stop") }
func (b *batch) Next()        { b.cmds = append(b.cmds, "next") }

func (b *batch) End() error {
	return b.sess.srv.run(b.sess, "list["+strings.Join(b.cmds, " ")+"]")
}

func onOff(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
