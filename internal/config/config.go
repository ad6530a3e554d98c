package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultMPDAddress = "localhost"
	DefaultMPDPort    = 6600
	DefaultInterval   = 1000
	MinInterval       = 100
	MaxInterval       = 10000
	DefaultTemplate   = "{artist} - {title}\n{album} - {date}"
	DefaultOBSURL     = "ws://localhost:4455"

	defaultConfigPath = "~/.config/mpdoverlay.toml"
)

// Config is one immutable snapshot of settings. A reload replaces it wholesale.
type Config struct {
	// MPD
	Address  string
	Port     int
	Password string

	// Overlay
	Source   string
	Interval int // milliseconds
	Template string

	// OBS websocket
	OBSURL      string
	OBSPassword string

	// Control surfaces
	Socket string
	HTTP   string
	Log    string

	Verbose bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Address:  DefaultMPDAddress,
		Port:     DefaultMPDPort,
		Interval: DefaultInterval,
		Template: DefaultTemplate,
		OBSURL:   DefaultOBSURL,
	}
}

// PollInterval returns Interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Millisecond
}

// IsSocket reports whether Address names a unix socket rather than a host.
func (c Config) IsSocket() bool {
	return strings.HasPrefix(c.Address, "/") || strings.HasPrefix(c.Address, "@")
}

// MPDAddr returns the network and address to dial.
func (c Config) MPDAddr() (network, addr string) {
	if c.IsSocket() {
		return "unix", c.Address
	}
	return "tcp", net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// Validate rejects unusable MPD settings and clamps the poll interval.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return errors.New("mpd address is empty")
	}
	if !c.IsSocket() && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("mpd port %d out of range 1-65535", c.Port)
	}
	switch {
	case c.Interval <= 0:
		c.Interval = DefaultInterval
	case c.Interval < MinInterval:
		c.Interval = MinInterval
	case c.Interval > MaxInterval:
		c.Interval = MaxInterval
	}
	return nil
} // func (c *Config) Validate() error

type fileConfig struct {
	Verbose *bool `toml:"verbose"`
	MPD     struct {
		Address  string `toml:"address"`
		Port     int    `toml:"port"`
		Password string `toml:"password"`
	} `toml:"mpd"`
	Overlay struct {
		Source   string  `toml:"source"`
		Interval int     `toml:"interval"`
		Template *string `toml:"template"`
	} `toml:"overlay"`
	OBS struct {
		URL      string `toml:"url"`
		Password string `toml:"password"`
	} `toml:"obs"`
	Control struct {
		Socket string `toml:"socket"`
		HTTP   string `toml:"http"`
		Log    string `toml:"log"`
	} `toml:"control"`
}

// Load reads the TOML file at path on top of base. A missing file is not an
// error: base is returned unchanged and found is false.
func Load(path string, base Config) (cfg Config, resolved string, found bool, err error) {
	resolved, err = resolvePath(path)
	if err != nil {
		return base, "", false, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, resolved, false, nil
		}
		return base, resolved, false, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return base, resolved, false, fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return base, resolved, true, fmt.Errorf("parse config: %w", err)
	}

	cfg = base
	setString(&cfg.Address, raw.MPD.Address)
	if raw.MPD.Port != 0 {
		cfg.Port = raw.MPD.Port
	}
	setString(&cfg.Password, raw.MPD.Password)
	setString(&cfg.Source, raw.Overlay.Source)
	if raw.Overlay.Interval != 0 {
		cfg.Interval = raw.Overlay.Interval
	}
	if raw.Overlay.Template != nil {
		cfg.Template = *raw.Overlay.Template
	}
	setString(&cfg.OBSURL, raw.OBS.URL)
	setString(&cfg.OBSPassword, raw.OBS.Password)
	setString(&cfg.Socket, raw.Control.Socket)
	setString(&cfg.HTTP, raw.Control.HTTP)
	setString(&cfg.Log, raw.Control.Log)
	if raw.Verbose != nil {
		cfg.Verbose = *raw.Verbose
	}
	return cfg, resolved, true, nil
} // func Load(path string, base Config)

// Env holds what MPD_HOST and MPD_PORT contribute.
type Env struct {
	Host     string
	Port     int
	Password string
}

// FromEnv parses MPD_HOST and MPD_PORT using the conventions of mpc:
// "host", "password@host", "/path/to/socket", "password@/path", "@abstract"
// and "password@@abstract".
func FromEnv() Env {
	return parseEnv(os.Getenv("MPD_HOST"), os.Getenv("MPD_PORT"))
}

func parseEnv(host, port string) Env {
	var env Env
	switch {
	case host == "":
	case strings.HasPrefix(host, "@"):
		env.Host = host
	case strings.Contains(host, "@@"):
		pass, rest, _ := strings.Cut(host, "@@")
		env.Password = pass
		env.Host = "@" + rest
	case strings.Contains(host, "@"):
		pass, rest, _ := strings.Cut(host, "@")
		env.Password = pass
		env.Host = rest
	default:
		env.Host = host
	}

	if n, err := strconv.Atoi(strings.TrimSpace(port)); err == nil {
		env.Port = n
	}
	return env
} // func parseEnv(host, port string) Env

// Apply layers env values over c. Used before the config file is read so the
// file wins over the environment.
func (e Env) Apply(c Config) Config {
	setString(&c.Address, e.Host)
	setString(&c.Password, e.Password)
	if e.Port != 0 {
		c.Port = e.Port
	}
	return c
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
