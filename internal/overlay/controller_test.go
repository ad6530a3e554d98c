package overlay

import (
	"bytes"
	"context"
	"errors"
	"log"
	"reflect"
	"strings"
	"testing"

	"mpdoverlay/internal/config"
	"mpdoverlay/internal/mpdclient"
	"mpdoverlay/internal/mpdclient/mpdtest"
	"mpdoverlay/internal/report"
)

type fakeHost struct {
	sources []string
	err     error
	pushes  []string
}

func (h *fakeHost) HasSource(_ context.Context, name string) (bool, error) {
	if h.err != nil {
		return false, h.err
	}
	for _, s := range h.sources {
		if s == name {
			return true, nil
		}
	}
	return false, nil
}

func (h *fakeHost) SetText(_ context.Context, name, text string) error {
	h.pushes = append(h.pushes, name+"="+text)
	return nil
}

func (h *fakeHost) TextSources(context.Context) ([]string, error) {
	return h.sources, h.err
}

type fixture struct {
	srv  *mpdtest.Server
	host *fakeHost
	ctrl *Controller
	logs *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var buf bytes.Buffer
	rep := report.New(log.New(&buf, "", 0), false)
	srv := mpdtest.NewServer()
	host := &fakeHost{sources: []string{"Now Playing"}}
	ctrl := New(mpdclient.NewManager(rep, srv.Dial, srv.Probe), host, rep)
	return &fixture{srv: srv, host: host, ctrl: ctrl, logs: &buf}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Source = "Now Playing"
	cfg.Template = "{artist} - {title}"
	return cfg
}

var setupCalls = []string{
	"stop", "clear", "update", "add /", "random 1", "setvol",
	"repeat 1", "consume 0", "single 0", "list[play stop]",
}

func TestUpdateInitializesOnce(t *testing.T) {
	f := newFixture(t)

	f.ctrl.Update(testConfig())
	f.ctrl.Update(testConfig())
	f.ctrl.Update(testConfig())

	if !f.ctrl.Initialized() {
		t.Fatal("not initialized after Update")
	}
	if got := f.srv.Calls(); !reflect.DeepEqual(got, setupCalls) {
		t.Errorf("calls = %v\nwant    %v", got, setupCalls)
	}
}

func TestReconnectRerunsSetup(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.srv.Reset()

	if !f.ctrl.Reconnect() {
		t.Fatal("Reconnect() = false")
	}
	if got := f.srv.Calls(); !reflect.DeepEqual(got, setupCalls) {
		t.Errorf("calls after reconnect = %v", got)
	}

	f.srv.Reset()
	f.ctrl.Update(testConfig())
	if got := f.srv.Calls(); len(got) != 0 {
		t.Errorf("Update after Reconnect sent %v", got)
	}
}

func TestUpdateWhileDownDoesNotInitialize(t *testing.T) {
	f := newFixture(t)
	f.srv.Down = true

	f.ctrl.Update(testConfig())
	if f.ctrl.Initialized() {
		t.Fatal("initialized while disconnected")
	}

	f.srv.Set(func(s *mpdtest.Server) { s.Down = false })
	f.ctrl.Update(testConfig())
	if !f.ctrl.Initialized() {
		t.Fatal("not initialized once MPD came back")
	}
}

func TestReconnectFailureLeavesUninitialized(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.srv.Set(func(s *mpdtest.Server) { s.Down = true })

	if f.ctrl.Reconnect() {
		t.Fatal("Reconnect() = true while MPD is down")
	}
	if f.ctrl.Initialized() {
		t.Fatal("still initialized after failed reconnect")
	}
}

func TestActivationIgnoresOtherSources(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.srv.Reset()

	f.ctrl.OnActivate("Webcam")
	f.ctrl.OnDeactivate("Webcam")
	if got := f.srv.Calls(); len(got) != 0 {
		t.Errorf("commands for unrelated source: %v", got)
	}
}

func TestActivationIgnoredBeforeSetup(t *testing.T) {
	f := newFixture(t)
	f.srv.Down = true
	f.ctrl.Update(testConfig())
	f.srv.Set(func(s *mpdtest.Server) { s.Down = false })

	f.ctrl.OnActivate("Now Playing")
	if got := f.srv.Calls(); len(got) != 0 {
		t.Errorf("commands before setup: %v", got)
	}
}

func TestActivateAndDeactivate(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.srv.Reset()

	f.ctrl.OnActivate("Now Playing")
	f.ctrl.OnDeactivate("Now Playing")
	f.ctrl.OnDeactivate("Now Playing")

	want := []string{"play", "list[next stop]", "list[next stop]"}
	if got := f.srv.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestActivateReconnectsAfterRestart(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.srv.Reset()
	f.srv.Kill()

	f.ctrl.OnActivate("Now Playing")
	if got := f.srv.Calls(); !reflect.DeepEqual(got, []string{"play"}) {
		t.Errorf("calls = %v, want [play]", got)
	}
	if f.srv.Dials() != 2 {
		t.Errorf("dials = %d, want 2", f.srv.Dials())
	}
}

func TestActivateWhileDownLogsError(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.srv.Reset()
	f.srv.Set(func(s *mpdtest.Server) { s.Down = true })

	f.ctrl.OnActivate("Now Playing")
	if got := f.srv.Calls(); len(got) != 0 {
		t.Errorf("calls = %v", got)
	}
	if !strings.Contains(f.logs.String(), "ERROR: Connection to MPD lost. Cannot send play command.") {
		t.Errorf("missing error log: %q", f.logs.String())
	}
}

func TestDeactivateCommandErrorIsWarning(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.srv.Set(func(s *mpdtest.Server) { s.Fail["list[next stop]"] = errors.New("Not playing") })

	f.ctrl.OnDeactivate("Now Playing")
	if !strings.Contains(f.logs.String(), "WARN: stop:") {
		t.Errorf("expected warning, got %q", f.logs.String())
	}
}

func TestTickRendersTemplate(t *testing.T) {
	f := newFixture(t)
	f.srv.Song = map[string]string{"Artist": "A", "Title": "B"}
	f.ctrl.Update(testConfig())

	f.ctrl.Tick(context.Background())
	if want := []string{"Now Playing=A - B"}; !reflect.DeepEqual(f.host.pushes, want) {
		t.Errorf("pushes = %q, want %q", f.host.pushes, want)
	}
	if got := f.ctrl.Status().Text; got != "A - B" {
		t.Errorf("Status().Text = %q", got)
	}
}

func TestTickMissingSourceNoPush(t *testing.T) {
	f := newFixture(t)
	f.host.sources = nil
	f.ctrl.Update(testConfig())

	f.ctrl.Tick(context.Background())
	if len(f.host.pushes) != 0 {
		t.Errorf("pushes = %q, want none", f.host.pushes)
	}
}

func TestTickHostErrorNoPush(t *testing.T) {
	f := newFixture(t)
	f.host.err = errors.New("not connected to obs")
	f.ctrl.Update(testConfig())

	f.ctrl.Tick(context.Background())
	if len(f.host.pushes) != 0 {
		t.Errorf("pushes = %q, want none", f.host.pushes)
	}
}

func TestTickNoTargetConfigured(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Source = ""
	f.ctrl.Update(cfg)

	f.ctrl.Tick(context.Background())
	if len(f.host.pushes) != 0 {
		t.Errorf("pushes = %q, want none", f.host.pushes)
	}
}

func TestTickClearsWhenMPDDown(t *testing.T) {
	f := newFixture(t)
	f.srv.Song = map[string]string{"Artist": "A", "Title": "B"}
	f.ctrl.Update(testConfig())
	f.srv.Set(func(s *mpdtest.Server) { s.Down = true })

	f.ctrl.Tick(context.Background())
	if want := []string{"Now Playing="}; !reflect.DeepEqual(f.host.pushes, want) {
		t.Errorf("pushes = %q, want %q", f.host.pushes, want)
	}
	if !strings.Contains(f.logs.String(), "WARN: Connection to MPD lost. Clearing the text source") {
		t.Errorf("missing warning: %q", f.logs.String())
	}
}

func TestUnloadResetsAndDisconnects(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Update(testConfig())
	f.ctrl.Unload()

	if f.ctrl.Initialized() {
		t.Fatal("initialized after Unload")
	}
	if f.ctrl.Status().Connected {
		t.Fatal("connected after Unload")
	}

	f.srv.Reset()
	f.ctrl.Update(testConfig())
	if got := f.srv.Calls(); !reflect.DeepEqual(got, setupCalls) {
		t.Errorf("setup not rerun after unload: %v", got)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	f.srv.Song = map[string]string{"Artist": "A"}
	f.ctrl.Update(testConfig())

	got, err := f.ctrl.Preview()
	if err != nil || got != "A - " {
		t.Errorf("Preview() = %q, %v", got, err)
	}
	if len(f.host.pushes) != 0 {
		t.Error("Preview pushed text")
	}
}

func TestCheckSourceWarnsWhenMissing(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Source = "Typo"
	f.ctrl.Update(cfg)

	f.ctrl.CheckSource(context.Background())
	if !strings.Contains(f.logs.String(), `WARN: Text source "Typo" not found`) {
		t.Errorf("missing warning: %q", f.logs.String())
	}
}
