// Package config loads mpdoverlay settings.
//
// Settings come from four layers, highest first: command line flags, the TOML
// config file (default ~/.config/mpdoverlay.toml), the MPD_HOST/MPD_PORT
// environment variables, and built-in defaults. main applies the flags; this
// package handles the rest.
//
// Example file:
//
//	verbose = false
//
//	[mpd]
//	address = "localhost"
//	port = 6600
//	password = ""
//
//	[overlay]
//	source = "Now Playing"
//	interval = 1000
//	template = "{artist} - {title}\n{album} - {date}"
//
//	[obs]
//	url = "ws://localhost:4455"
//	password = ""
//
//	[control]
//	socket = "/run/user/1000/mpdoverlay.sock"
//	http = "127.0.0.1:6680"
//	log = ""
//
// A missing file is not an error. An empty template in the file is honoured
// (the overlay is then always cleared); leaving the key out keeps the default.
package config
