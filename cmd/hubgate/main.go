package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// globalOptions are accepted before the subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	trace      bool
	token      string
}

type command func(env *cliEnv, args []string) error

var commands = map[string]command{
	"get":      runGetCommand,
	"post":     runPostCommand,
	"patch":    runPatchCommand,
	"delete":   runDeleteCommand,
	"health":   runHealthCommand,
	"events":   runEventsCommand,
	"logs":     runLogsCommand,
	"terminal": runTerminalCommand,
	"chat":     runChatCommand,
	"mint":     runMintCommand,
	"config":   runConfigCommand,
}

// cliEnv carries process streams and global flags into a subcommand.
type cliEnv struct {
	opts   globalOptions
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	env := &cliEnv{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(run(env, os.Args[1:]))
}

func run(env *cliEnv, args []string) int {
	opts, rest, err := parseGlobalOptions(args)
	if err != nil {
		fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return exitUsage
	}
	env.opts = opts

	if len(rest) == 0 {
		printHelp(env.stdout)
		return 0
	}
	switch rest[0] {
	case "--version", "-v", "version":
		printVersion(env.stdout)
		return 0
	case "--help", "-h", "help":
		printHelp(env.stdout)
		return 0
	}
	handler, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(env.stderr, "Error: unknown command %q\n", rest[0])
		printHelp(env.stderr)
		return exitUsage
	}
	return runCommand(env, handler, rest[1:])
}

func runCommand(env *cliEnv, handler command, args []string) int {
	if err := handler(env, args); err != nil {
		fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func parseGlobalOptions(args []string) (globalOptions, []string, error) {
	fs := flag.NewFlagSet("hubgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var opts globalOptions
	fs.StringVar(&opts.configPath, "config", "", "path to config file")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&opts.trace, "trace", false, "print OpenTelemetry spans to stderr")
	fs.StringVar(&opts.token, "session-token", "", "hub session token for this run")
	if err := fs.Parse(args); err != nil {
		return opts, nil, withExitCode(err, exitUsage)
	}
	return opts, fs.Args(), nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "hubgate %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, strings.TrimLeft(`
hubgate - client for an agent hub and its workers

Usage:
  hubgate [--config path] [--log-level level] [--trace] [--session-token tok] <command> [flags]

Commands:
  get <url|route>          GET a route and print the JSON result
  post <url|route> [json]  POST a JSON body (stdin when omitted)
  patch <url|route> [json] PATCH a JSON body
  delete <url|route>       DELETE a route
  health [url]             check an endpoint's /health without credentials
  events                   follow the hub's system events
  logs <task-id>           follow a task's log stream
  terminal                 attach to an agent terminal
  chat <prompt>            stream an answer from the hub's LLM
  mint <secret>            print a short-lived token signed with secret
  config                   print the effective configuration
  version                  print version information

Endpoints are resolved by name with -e or by URL prefix against the directory.
`, "\n"))
}
