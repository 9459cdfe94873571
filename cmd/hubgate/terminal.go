package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/terminal"
)

func runTerminalCommand(env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("terminal", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	endpoint := fs.String("e", "", "endpoint name or base url (default: hub)")
	mode := fs.String("mode", string(terminal.ModeInteractive), "interactive or read")
	cred := fs.String("credential", "", "explicit credential: a token, or a shared secret to mint with")
	forward := fs.String("forward", "", "forward_param query value for the terminal endpoint")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	m := terminal.Mode(*mode)
	if !m.Valid() {
		return withExitCode(fmt.Errorf("invalid mode %q (interactive or read)", *mode), exitUsage)
	}

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.Close()

	base, err := a.endpointURL(*endpoint)
	if err != nil {
		return err
	}

	sess := terminal.NewSession(terminal.SessionOptions{
		Dialer:   terminal.WebSocketDialer{Timeout: a.cfg.Terminal.DialTimeout},
		Resolver: a.resolver,
		Logger:   a.logger,
	})
	defer sess.Close()

	output, stopOutput := sess.Output()
	defer stopOutput()
	events, stopEvents := sess.Events()
	defer stopEvents()

	if m == terminal.ModeInteractive {
		restore, err := attachInput(ctx, env, sess)
		if err != nil {
			return err
		}
		defer restore()
	}

	if err := sess.Connect(ctx, terminal.Options{
		BaseURL:      base,
		Mode:         m,
		Credential:   credential.Parse(*cred),
		ForwardParam: *forward,
	}); err != nil {
		return err
	}
	defer sess.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-output:
			if !ok {
				return nil
			}
			if _, err := io.WriteString(env.stdout, chunk); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case terminal.EventClose, "exit":
				return nil
			case terminal.EventError:
				return terminalError(ev.Data)
			}
		}
	}
}

func terminalError(data json.RawMessage) error {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return errors.New(payload.Message)
	}
	return errors.New("terminal connection failed")
}

// attachInput forwards stdin and window resizes to the session. When stdin is
// a TTY it is switched to raw mode; the returned func restores it.
func attachInput(ctx context.Context, env *cliEnv, sess *terminal.Session) (func(), error) {
	restore := func() {}
	file, isFile := env.stdin.(*os.File)
	if isFile && term.IsTerminal(int(file.Fd())) {
		fd := int(file.Fd())
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("enable raw mode: %w", err)
		}
		restore = func() { _ = term.Restore(fd, oldState) }

		sigCh := make(chan os.Signal, 1)
		registerTerminalResize(sigCh)
		prev := restore
		restore = func() {
			unregisterTerminalResize(sigCh)
			prev()
		}
		states, stopStates := sess.States()
		go forwardResizes(ctx, fd, sess, sigCh, states, stopStates)
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := env.stdin.Read(buf)
			if n > 0 {
				if sendErr := sess.SendInput(ctx, string(buf[:n])); sendErr != nil && !errors.Is(sendErr, terminal.ErrNotConnected) {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return restore, nil
}

func forwardResizes(ctx context.Context, fd int, sess *terminal.Session, sigCh <-chan os.Signal, states <-chan terminal.State, stop func()) {
	defer stop()
	resize := func() {
		cols, rows, err := term.GetSize(fd)
		if err != nil {
			return
		}
		_ = sess.Resize(ctx, rows, cols)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if st == terminal.StateConnected {
				resize()
			}
		case <-sigCh:
			resize()
		}
	}
}
