package mpdclient

// Start resumes playback from the current queue position.
func Start(m *Manager) error {
	return m.Do("play", func(c Client) error { return c.Play(-1) })
}

// StopSequence advances to the next track and stops in one command list, so
// the next Start begins with a fresh song.
func StopSequence(m *Manager) error {
	return m.Do("next+stop", func(c Client) error {
		b := c.BeginBatch()
		b.Next()
		b.Stop()
		return b.End()
	})
}
