// mpdoverlay keeps an OBS text source showing the song MPD is playing and
// starts/stops MPD playback as that source is shown or hidden.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	flag "github.com/spf13/pflag"

	"mpdoverlay/internal/config"
	"mpdoverlay/internal/daemon"
	"mpdoverlay/internal/httpapi"
	"mpdoverlay/internal/mpdclient"
	"mpdoverlay/internal/obsws"
	"mpdoverlay/internal/overlay"
	"mpdoverlay/internal/report"
)

var version = "dev"

// options are the command line values. Only flags the user actually set
// override the file and environment.
type options struct {
	fs *flag.FlagSet

	configPath  string
	mpdHost     string
	mpdPort     int
	mpdPass     string
	obsURL      string
	obsPass     string
	source      string
	interval    int
	template    string
	socket      string
	http        string
	logPath     string
	verbose     bool
	showVersion bool
	showHelp    bool
}

func newOptions(name string, output io.Writer) *options {
	o := &options{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	fs := o.fs
	fs.SetOutput(output)

	fs.StringVar(&o.configPath, "config", "", "path to config file (default ~/.config/mpdoverlay.toml)")
	fs.StringVar(&o.mpdHost, "mpdhost", "", "MPD host <address> or socket <path>")
	fs.IntVar(&o.mpdPort, "mpdport", 0, "MPD host <port>")
	fs.StringVar(&o.mpdPass, "mpdpass", "", "MPD server password")
	fs.StringVar(&o.obsURL, "obsurl", "", "obs-websocket <url>")
	fs.StringVar(&o.obsPass, "obspass", "", "obs-websocket password")
	fs.StringVar(&o.source, "source", "", "OBS text source <name>")
	fs.IntVar(&o.interval, "interval", 0, "update interval in <ms>")
	fs.StringVar(&o.template, "template", "", "overlay text template")
	fs.StringVar(&o.socket, "socket", "", "IPC socket <path> (\"none\" disables)")
	fs.StringVar(&o.http, "http", "", "HTTP control API listen <addr>")
	fs.StringVar(&o.logPath, "log", "", "write logs to file instead of stderr")
	fs.BoolVar(&o.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&o.showHelp, "help", false, "Print help and exit")
	return o
}

// apply layers the flags the user set over cfg.
func (o *options) apply(cfg config.Config) config.Config {
	set := o.fs.Changed
	if set("mpdhost") {
		cfg.Address = o.mpdHost
	}
	if set("mpdport") {
		cfg.Port = o.mpdPort
	}
	if set("mpdpass") {
		cfg.Password = o.mpdPass
	}
	if set("obsurl") {
		cfg.OBSURL = o.obsURL
	}
	if set("obspass") {
		cfg.OBSPassword = o.obsPass
	}
	if set("source") {
		cfg.Source = o.source
	}
	if set("interval") {
		cfg.Interval = o.interval
	}
	if set("template") {
		cfg.Template = unescape(o.template)
	}
	if set("socket") {
		cfg.Socket = o.socket
	}
	if set("http") {
		cfg.HTTP = o.http
	}
	if set("log") {
		cfg.Log = o.logPath
	}
	if set("verbose") {
		cfg.Verbose = o.verbose
	}
	return cfg
} // func (o *options) apply(cfg config.Config) config.Config

// unescape lets a shell-quoted template carry line breaks as \n.
func unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// resolve builds the effective config: CLI > file > environment > default.
func (o *options) resolve(env config.Env) (cfg config.Config, path string, found bool, err error) {
	cfg, path, found, err = config.Load(o.configPath, env.Apply(config.Default()))
	if err != nil {
		return cfg, path, found, err
	}
	cfg = o.apply(cfg)
	if cfg.Socket == "" {
		cfg.Socket = defaultSocket()
	}
	if cfg.Socket == "none" {
		cfg.Socket = ""
	}
	if err := cfg.Validate(); err != nil {
		return cfg, path, found, err
	}
	return cfg, path, found, nil
}

func defaultSocket() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mpdoverlay.sock")
}

// clientCommandHandler sends the positional args to a running daemon and
// prints its reply.
func clientCommandHandler(socket string, args []string, out io.Writer) error {
	if socket == "" {
		return fmt.Errorf("no IPC socket configured")
	}
	lines, err := daemon.SendIPCCommand(socket, strings.Join(args, ","))
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	if err != nil {
		return err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "error=") {
			return fmt.Errorf("daemon reported an error")
		}
	}
	return nil
} // func clientCommandHandler(socket string, args []string, out io.Writer) error

// main parses flags, loads config, and runs either a client command or the daemon
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
} // func main()

// run returns the process exit code. Deferred cleanup, including closing the
// log file, happens before main exits.
func run(args []string, stdout, stderr io.Writer) int {
	opts := newOptions("mpdoverlay", stderr)
	if err := opts.fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "\nmpdoverlay binary version %s\n\n", version)
		return 0
	}
	if opts.showHelp {
		fmt.Fprintf(stdout, "\nmpdoverlay binary version %s\n\n", version)
		fmt.Fprintln(stdout, "Usage: mpdoverlay [flags] or client subcommands (status, reconnect, sources, preview, version)")
		opts.fs.SetOutput(stdout)
		opts.fs.PrintDefaults()
		return 0
	}

	cfg, cfgPath, found, err := opts.resolve(config.FromEnv())
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: config: %v\n", err)
		return 1
	}

	// ------------------------------------------------------------------
	// Client command handling (positional args only)
	// ------------------------------------------------------------------
	if args := opts.fs.Args(); len(args) > 0 {
		if err := clientCommandHandler(cfg.Socket, args, stdout); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	// MUST be before any logging
	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "failed to open log file %s: %v\n", cfg.Log, err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
		defer log.SetOutput(stderr)
	}

	rep := report.New(log.Default(), cfg.Verbose)
	if found {
		rep.Infof("Config loaded from %s", cfgPath)
	} else {
		rep.Verbosef("No config file at %s, using defaults", cfgPath)
	}

	mpd := mpdclient.NewManager(rep, mpdclient.DialGompd, mpdclient.ProbeNet)
	obs := obsws.New(cfg.OBSURL, cfg.OBSPassword, rep)
	ctrl := overlay.New(mpd, obs, rep)
	d := daemon.New(ctrl, obs, rep)
	d.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.Socket != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.ServeIPC(ctx, cfg.Socket); err != nil {
				rep.Errorf("IPC: %v", err)
			}
		}()
	}
	if cfg.HTTP != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpapi.Serve(ctx, cfg.HTTP, d, rep); err != nil {
				rep.Errorf("HTTP: %v", err)
			}
		}()
	}

	go reloadOnHUP(ctx, opts, d, rep)

	err = d.Run(ctx, cfg)
	cancel()
	// socket removal and HTTP shutdown
	wg.Wait()
	if err != nil {
		rep.Errorf("%v", err)
		return 1
	}
	rep.Infof("Cleanup steps completed, exiting")
	return 0
} // func run(args []string, stdout, stderr io.Writer) int

// reloadOnHUP re-reads the config file on SIGHUP. A config that fails to
// load or validate leaves the running settings untouched.
func reloadOnHUP(ctx context.Context, opts *options, d *daemon.Daemon, rep *report.Reporter) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, path, _, err := opts.resolve(config.FromEnv())
			if err != nil {
				rep.Warnf("[reload] %s: %v", path, err)
				continue
			}
			rep.Infof("[reload] config reloaded from %s", path)
			d.Reload(cfg)
		}
	}
} // func reloadOnHUP(ctx context.Context, opts *options, d *daemon.Daemon, rep *report.Reporter)
