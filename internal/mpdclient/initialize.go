package mpdclient

import "fmt"

// LibraryRoot is the URI added to the queue during setup.
const LibraryRoot = "/"

type step struct {
	name string
	fn   func(Client) error
}

// setupSteps puts MPD into shuffled, repeating, full-volume playback of the
// whole library. The closing play+stop batch makes MPD load the first queue
// entry without it being heard.
var setupSteps = []step{
	{"stop", func(c Client) error { return c.Stop() }},
	{"clear", func(c Client) error { return c.Clear() }},
	{"update", func(c Client) error { _, err := c.Update(""); return err }},
	{"add", func(c Client) error { return c.Add(LibraryRoot) }},
	{"random", func(c Client) error { return c.Random(true) }},
	{"setvol", func(c Client) error { return c.SetVolume(100) }},
	{"repeat", func(c Client) error { return c.Repeat(true) }},
	{"consume", func(c Client) error { return c.Consume(false) }},
	{"single", func(c Client) error { return c.Single(false) }},
	{"play+stop", func(c Client) error {
		b := c.BeginBatch()
		b.Play(-1)
		b.Stop()
		return b.End()
	}},
}

// Initialize runs the one-time setup sequence. It stops at the first failing
// step; the steps already sent are not undone.
func Initialize(m *Manager) error {
	for _, s := range setupSteps {
		if err := m.Do(s.name, s.fn); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	return nil
} // func Initialize(m *Manager) error
