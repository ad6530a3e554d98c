package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ipcTimeout bounds one verb batch, so a stuck loop cannot pin a client.
const ipcTimeout = 10 * time.Second

// ServeIPC accepts UNIX socket clients at path until ctx is done. Each client
// sends one line of comma-separated verbs and gets key=value lines back.
func (d *Daemon) ServeIPC(ctx context.Context, path string) error {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	defer os.Remove(path)

	// owner+group read/write
	if err := os.Chmod(path, 0o660); err != nil {
		d.rep.Warnf("[ipc] chmod %s: %v", path, err)
	}
	d.rep.Infof("IPC listening on %s", path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.rep.Warnf("IPC accept error: %v", err)
			continue
		}
		go d.handleUDS(ctx, conn)
	}
} // func (d *Daemon) ServeIPC(ctx context.Context, path string) error

// handleUDS handles a single UDS client, reading commands and writing responses.
func (d *Daemon) handleUDS(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)

	if scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			ctx, cancel := context.WithTimeout(ctx, ipcTimeout)
			responses := d.verbProcessor(ctx, line)
			cancel()
			for _, resp := range responses {
				fmt.Fprintln(conn, resp)
			}
			d.rep.Verbosef("Executed UDS command(s): %q", line)
		}
	}

	if err := scanner.Err(); err != nil {
		d.rep.Warnf("UDS connection error: %v", err)
	}
} // func (d *Daemon) handleUDS()

// verbProcessor executes each verb in csv and returns the response lines.
func (d *Daemon) verbProcessor(ctx context.Context, csv string) []string {
	var responses []string

	for _, verb := range strings.Split(csv, ",") {
		verb = strings.ToLower(strings.TrimSpace(verb))
		switch verb {
		case "":
			continue

		case "status":
			st, err := d.Status(ctx)
			if err != nil {
				responses = append(responses, errorLine(err))
				continue
			}
			responses = append(responses, statusLines(st)...)

		case "reconnect":
			st, err := d.Reconnect(ctx)
			if err != nil {
				responses = append(responses, errorLine(err))
			} else {
				responses = append(responses, "reconnect=ok")
			}
			responses = append(responses, statusLines(st)...)

		case "sources":
			names, err := d.Sources(ctx)
			if err != nil {
				responses = append(responses, errorLine(err))
				continue
			}
			for _, n := range names {
				responses = append(responses, fmt.Sprintf("source=%q", n))
			}

		case "preview":
			text, err := d.Preview(ctx)
			if err != nil {
				responses = append(responses, errorLine(err))
				continue
			}
			responses = append(responses, fmt.Sprintf("text=%q", text))

		case "version":
			responses = append(responses, "version="+d.Version)

		default:
			responses = append(responses, errorLine(fmt.Errorf("unknown command: %s", verb)))
		}
	}
	return responses
} // func (d *Daemon) verbProcessor(ctx context.Context, csv string) []string

func statusLines(st Status) []string {
	return []string{
		fmt.Sprintf("connected=%d", btoi(st.Connected)),
		fmt.Sprintf("initialized=%d", btoi(st.Initialized)),
		fmt.Sprintf("obs=%d", btoi(st.OBSConnected)),
		fmt.Sprintf("address=%q", st.Address),
		fmt.Sprintf("source=%q", st.Source),
		fmt.Sprintf("text=%q", st.Text),
	}
}

func errorLine(err error) string {
	return fmt.Sprintf("error=%q", err.Error())
}

// btoi converts a bool to int (true=1, false=0)
func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SendIPCCommand sends cmd to the daemon at path and returns all response lines.
func SendIPCCommand(path, cmd string) ([]string, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("scanner error: %w", err)
	}
	return lines, nil
} // func SendIPCCommand(path, cmd string) ([]string, error)
