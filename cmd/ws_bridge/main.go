// Command ws_bridge exposes a stdio program, typically `ponder --acp`, over a
// WebSocket. Each connection starts its own subprocess; incoming messages are
// written to its stdin one per line, and its stdout and stderr lines are sent
// back as {"type": "stdout"|"stderr", "data": line} frames.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type frame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string
	var verbose bool
	cmd := &cobra.Command{
		Use:           "ws_bridge [flags] -- command [args...]",
		Short:         "Serve a stdio program over WebSocket",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(os.Stderr, verbose)
			http.Handle("/ws", &bridge{command: args, log: log})
			log.Info().Str("addr", addr).Strs("command", args).Msg("websocket bridge listening on /ws")
			if err := http.ListenAndServe(addr, nil); err != nil {
				return errors.Wrapf(err, "bridge stopped")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

// bridge connects each WebSocket to a fresh subprocess.
type bridge struct {
	command []string
	log     zerolog.Logger
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	cmd := exec.CommandContext(r.Context(), b.command[0], b.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		b.log.Error().Err(err).Msg("could not open stdin")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.log.Error().Err(err).Msg("could not open stdout")
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.log.Error().Err(err).Msg("could not open stderr")
		return
	}
	if err := cmd.Start(); err != nil {
		b.log.Error().Err(err).Msg("could not start command")
		return
	}
	b.log.Debug().Int("pid", cmd.Process.Pid).Str("remote", r.RemoteAddr).Msg("session started")
	defer func() {
		stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		b.log.Debug().Str("remote", r.RemoteAddr).Msg("session ended")
	}()

	// Only one goroutine may write to a websocket.Conn at a time.
	var writeMu sync.Mutex
	pump := func(kind string, rd io.Reader) {
		scanner := bufio.NewScanner(rd)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			writeMu.Lock()
			err := conn.WriteJSON(frame{Type: kind, Data: scanner.Text()})
			writeMu.Unlock()
			if err != nil {
				b.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
	go pump("stdout", stdout)
	go pump("stderr", stderr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.log.Debug().Err(err).Msg("websocket closed")
			return
		}
		if _, err := stdin.Write(append(msg, '\n')); err != nil {
			b.log.Warn().Err(err).Msg("stdin write failed")
			return
		}
	}
}
