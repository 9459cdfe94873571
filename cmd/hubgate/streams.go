package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ananta888/hubgate/pkg/bus"
	"github.com/ananta888/hubgate/pkg/chatstream"
	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/hub"
)

// lineWriter serializes whole lines from concurrent handlers.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) writeLine(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(data)
	_, _ = l.w.Write([]byte{'\n'})
}

func runEventsCommand(env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	cred := fs.String("credential", "", "session token to use instead of the stored one")
	filter := fs.String("type", "", "only print events whose type starts with this prefix")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.hub()
	if err != nil {
		return err
	}
	b, err := a.openBus()
	if err != nil {
		return err
	}
	defer b.Close()

	prefix := a.cfg.Bus.SubjectPrefix
	a.persistSessionRotations(ctx)
	rotation, err := hub.WatchTokenRotation(ctx, b, prefix, a.sessions)
	if err != nil {
		return err
	}
	defer rotation.Unsubscribe()

	out := &lineWriter{w: env.stdout}
	if prefix == "" {
		prefix = bus.DefaultSubjectPrefix
	}
	typePrefix := prefix + "." + strings.TrimSpace(*filter)
	printer, err := b.Subscribe(ctx, prefix+".>", func(msg *bus.Message) {
		if strings.HasPrefix(msg.Subject, typePrefix) {
			out.writeLine(msg.Data)
		}
	})
	if err != nil {
		return err
	}
	defer printer.Unsubscribe()

	feed, err := h.StartSystemFeed(ctx, b, prefix, sessionCredential(*cred))
	if err != nil {
		return err
	}
	defer feed.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-feed.Done():
	}
	if err := feed.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func sessionCredential(raw string) credential.Credential {
	if strings.TrimSpace(raw) == "" {
		return credential.Credential{}
	}
	return credential.Session(raw)
}

func runLogsCommand(env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	endpoint := fs.String("e", "", "endpoint name or base url (default: hub)")
	cred := fs.String("credential", "", "explicit credential: a token, or a shared secret to mint with")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() != 1 {
		return withExitCode(fmt.Errorf("usage: hubgate logs [-e endpoint] <task-id>"), exitUsage)
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
	sub, err := a.hubFor(base).TaskLogs(ctx, base, fs.Arg(0), credential.Parse(*cred))
	if err != nil {
		return err
	}
	defer sub.Close()

	out := &lineWriter{w: env.stdout}
	for ev := range sub.Events() {
		out.writeLine(ev)
	}
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runChatCommand(env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	historyPath := fs.String("history", "", "JSON file with prior turns [{role, content}]")
	noStream := fs.Bool("no-stream", false, "wait for the whole answer")
	cred := fs.String("credential", "", "explicit credential: a token, or a shared secret to mint with")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		data, err := io.ReadAll(env.stdin)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return withExitCode(fmt.Errorf("usage: hubgate chat [--history file] <prompt>"), exitUsage)
	}
	history, err := loadHistory(*historyPath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.hub()
	if err != nil {
		return err
	}

	if *noStream {
		text, err := h.Generate(ctx, prompt, history)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(env.stdout, text)
		return err
	}

	tokens, errc := h.GenerateStream(ctx, prompt, history, credential.Parse(*cred))
	for tok := range tokens {
		if _, err := io.WriteString(env.stdout, tok); err != nil {
			cancel()
		}
	}
	_, _ = io.WriteString(env.stdout, "\n")
	if err := <-errc; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func loadHistory(path string) ([]chatstream.Turn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var turns []chatstream.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, withExitCode(fmt.Errorf("parse history %s: %w", path, err), exitUsage)
	}
	return turns, nil
}
