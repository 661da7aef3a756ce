// graylogic-send publishes one message on the bus, or sends a request and
// prints the reply envelope.
//
//	graylogic-send -request command=inventory
//	graylogic-send -subject event.device.statechanged uuid=abc level=255
//	graylogic-send -request '{"command":"on","uuid":"abc"}'
//
// Broker settings come from the configuration file named by -config or
// GRAYLOGIC_CONFIG; without one, built-in defaults and GRAYLOGIC_*
// environment variables are used.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bus/internal/transport/factory"
)

const defaultInstance = "graylogic-send"

var errUsage = errors.New("usage: graylogic-send [flags] key=value... | JSON")

// exitNoReply is returned when a request got an error envelope.
const exitNoReply = 2

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code, err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

type options struct {
	configPath string
	subject    string
	request    bool
	timeout    time.Duration
	logLevel   string
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	opts := &options{}
	fs := flag.NewFlagSet("graylogic-send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", os.Getenv("GRAYLOGIC_CONFIG"),
		"Path to configuration file (env: GRAYLOGIC_CONFIG)")
	fs.StringVar(&opts.subject, "subject", "", "Message subject, e.g. event.device.statechanged")
	fs.BoolVar(&opts.request, "request", false, "Wait for a reply and print it")
	fs.DurationVar(&opts.timeout, "timeout", 3*time.Second, "Reply timeout for -request")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level: trace, debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.request && opts.subject != "" {
		return nil, nil, errors.New("-subject cannot be combined with -request")
	}
	return opts, fs.Args(), nil
}

// run returns the process exit code alongside any error to report.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, nil
		}
		return 1, err
	}

	content, err := parseContent(rest)
	if err != nil {
		return 1, err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return 1, err
	}
	log := logging.New(config.LoggingConfig{Level: opts.logLevel, Format: "text", Output: "stderr"}, "cli").
		With("instance", cfg.Instance)

	tr, err := factory.New(cfg, log, nil)
	if err != nil {
		return 1, err
	}
	if err := tr.Start(ctx); err != nil {
		return 1, fmt.Errorf("connecting to %s broker: %w", cfg.Messaging.Type, err)
	}
	defer tr.Shutdown()

	msg := envelope.Message{Content: content, Subject: opts.subject, Instance: cfg.Instance}
	log.Trace("sending", "subject", msg.Subject, "content", msg.Content)

	if !opts.request {
		if err := tr.SendMessage(ctx, msg); err != nil {
			return 1, err
		}
		return 0, nil
	}

	resp := tr.SendRequest(ctx, msg, opts.timeout)
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return 1, fmt.Errorf("encoding reply: %w", err)
	}
	fmt.Fprintln(stdout, string(out))
	if resp.IsError() {
		return exitNoReply, nil
	}
	return 0, nil
}

// loadConfig reads path when given, otherwise uses defaults with
// environment overrides. The instance defaults to graylogic-send.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	cfg := config.Default()
	if cfg.Instance == "" {
		cfg.Instance = defaultInstance
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseContent accepts either one JSON object or key=value pairs. Values
// that parse as JSON keep their type; anything else is a string.
func parseContent(args []string) (envelope.Map, error) {
	if len(args) == 0 {
		return nil, errUsage
	}

	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		var content envelope.Map
		if err := json.Unmarshal([]byte(args[0]), &content); err != nil {
			return nil, fmt.Errorf("decoding content: %w", err)
		}
		return content, nil
	}

	content := make(envelope.Map, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: bad argument %q", errUsage, arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		content[key] = v
	}
	return content, nil
}
