package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/directory"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/gateway"
)

// headerFlags collects repeated -H "Key: Value" flags.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q must look like 'Key: Value'", v)
	}
	*h = append(*h, v)
	return nil
}

type requestFlags struct {
	endpoint   string
	credential string
	noRetry    bool
	retry      bool
	cacheTag   string
	timeout    time.Duration
	headers    headerFlags
}

func (f *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.endpoint, "e", "", "endpoint name or base url (default: hub)")
	fs.StringVar(&f.credential, "credential", "", "explicit credential: a token, or a shared secret to mint with")
	fs.BoolVar(&f.noRetry, "no-retry", false, "disable retries")
	fs.BoolVar(&f.retry, "retry", false, "retry a write on transient failure")
	fs.StringVar(&f.cacheTag, "cache", "", "serve from the response cache under this tag")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-attempt timeout")
	fs.Var(&f.headers, "H", "extra request header (repeatable)")
}

func (f *requestFlags) callOptions() []gateway.CallOption {
	var opts []gateway.CallOption
	if f.credential != "" {
		opts = append(opts, gateway.WithCredential(credential.Parse(f.credential)))
	}
	switch {
	case f.noRetry:
		opts = append(opts, gateway.WithRetry(false))
	case f.retry:
		opts = append(opts, gateway.WithRetry(true))
	}
	if f.cacheTag != "" {
		opts = append(opts, gateway.WithCache(f.cacheTag, 0))
	}
	if f.timeout > 0 {
		opts = append(opts, gateway.WithTimeout(f.timeout))
	}
	for _, h := range f.headers {
		key, value, _ := strings.Cut(h, ":")
		opts = append(opts, gateway.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
	}
	return opts
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runGetCommand(env *cliEnv, args []string) error {
	return runRequest(env, http.MethodGet, false, args)
}

func runPostCommand(env *cliEnv, args []string) error {
	return runRequest(env, http.MethodPost, true, args)
}

func runPatchCommand(env *cliEnv, args []string) error {
	return runRequest(env, http.MethodPatch, true, args)
}

func runDeleteCommand(env *cliEnv, args []string) error {
	return runRequest(env, http.MethodDelete, false, args)
}

func runRequest(env *cliEnv, method string, withBody bool, args []string) error {
	fs := flag.NewFlagSet(strings.ToLower(method), flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	var flags requestFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() < 1 {
		return withExitCode(fmt.Errorf("usage: hubgate %s [flags] <url|route>", strings.ToLower(method)), exitUsage)
	}

	var body any
	if withBody {
		raw, err := readBody(env.stdin, fs.Args()[1:])
		if err != nil {
			return err
		}
		body = raw
	}

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.Close()

	base, route, err := a.target(flags.endpoint, fs.Arg(0))
	if err != nil {
		return err
	}
	result, err := a.gateway.Do(ctx, method, base, route, body, flags.callOptions()...)
	if err != nil {
		return err
	}
	return printJSON(env.stdout, result)
}

// readBody returns the JSON body from the argument or stdin. Non-JSON input
// is rejected before any request is made.
func readBody(stdin io.Reader, rest []string) (json.RawMessage, error) {
	var data []byte
	if len(rest) > 0 {
		data = []byte(strings.Join(rest, " "))
	} else {
		var err error
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, withExitCode(gwerrors.New(gwerrors.ErrCodeInvalidInput, "request body is not valid JSON"), exitUsage)
	}
	return json.RawMessage(data), nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func runHealthCommand(env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	endpoint := fs.String("e", "", "endpoint name or base url (default: hub)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		*endpoint = fs.Arg(0)
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
	h, err := a.hubFor(base).Health(ctx, base)
	if err != nil {
		return err
	}
	if len(h.Raw) > 0 {
		return printJSON(env.stdout, h.Raw)
	}
	_, err = fmt.Fprintln(env.stdout, h.Status)
	return err
}

func runMintCommand(env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("mint", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	subject := fs.String("sub", credential.DefaultSubject, "subject claim")
	endpoint := fs.String("e", "", "mint with this endpoint's shared secret")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	secret := fs.Arg(0)
	if secret == "" && *endpoint != "" {
		cfg, err := loadConfig(env.opts)
		if err != nil {
			return err
		}
		ids, err := cfg.Identities()
		if err != nil {
			return withExitCode(err, exitConfig)
		}
		id, ok := directory.New(ids...).ByName(*endpoint)
		if !ok || id.SharedSecret == "" {
			return withExitCode(fmt.Errorf("endpoint %q has no shared secret", *endpoint), exitConfig)
		}
		secret = id.SharedSecret
	}
	if secret == "" {
		return withExitCode(fmt.Errorf("usage: hubgate mint [--sub subject] <secret> | -e <endpoint>"), exitUsage)
	}

	token, err := credential.NewMinter().Mint(map[string]any{"sub": *subject}, secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.stdout, token)
	return err
}

func runConfigCommand(env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	showSecrets := fs.Bool("show-secrets", false, "print shared secrets and tokens")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	cfg, err := loadConfig(env.opts)
	if err != nil {
		return err
	}
	ids, err := cfg.Identities()
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	out := *cfg
	out.Endpoints = ids
	if !*showSecrets {
		out.Endpoints = redactIdentities(ids)
		if out.Session.Token != "" {
			out.Session.Token = "***"
		}
	}
	enc := yaml.NewEncoder(env.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

func redactIdentities(ids []directory.Identity) []directory.Identity {
	out := make([]directory.Identity, len(ids))
	for i, id := range ids {
		if id.SharedSecret != "" {
			id.SharedSecret = "***"
		}
		if id.Token != "" {
			id.Token = "***"
		}
		out[i] = id
	}
	return out
}
