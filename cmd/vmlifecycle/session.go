package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/Bibi40k/vmware-vm-lifecycle/configs"
	"github.com/Bibi40k/vmware-vm-lifecycle/internal/netutil"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/lifecycle"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/vcenter"
)

// newRunLogger builds the CLI logger: pretty output on stderr, mirrored
// to --log-file when set, tagged with a short run id for correlation.
func newRunLogger() (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}

	var handler slog.Handler = newPrettyHandler(os.Stderr, level)
	cleanup := func() {}

	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", flagLogFile, err)
		}
		fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
		handler = &teeHandler{handlers: []slog.Handler{handler, fileHandler}}
		cleanup = func() { _ = f.Close() }
	}

	runID := strings.Split(uuid.NewString(), "-")[0]
	logger := slog.New(handler).With("run", runID)
	return logger, cleanup, nil
}

// promptPassword asks for the vCenter password without echo.
func promptPassword(host, username string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", username, host)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// withSession connects to vCenter, runs fn, and guarantees the session
// is released on every exit path. SIGINT/SIGTERM cancel the context so
// a hung remote task does not hang the tool.
func withSession(fn func(ctx context.Context, op *lifecycle.Operator, logger *slog.Logger) error) error {
	logger, cleanup, err := newRunLogger()
	if err != nil {
		return err
	}
	defer cleanup()

	password := flagPassword
	if password == "" {
		password, err = promptPassword(flagHost, flagUsername)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probePort := flagPort
	if probePort == 0 {
		probePort = configs.Defaults.VCenter.Port
	}
	// Quick reachability probe so a typo'd host fails in seconds, not
	// at the SOAP client's much longer dial timeout.
	if host, port, err := netutil.HostPort(flagHost, probePort); err == nil {
		if !netutil.IsPortOpen(host, port, 3*time.Second) {
			logger.Warn("vCenter endpoint not reachable, attempting anyway", "host", host, "port", port)
		}
	}

	logger.Info("Connecting to vCenter", "host", flagHost, "username", flagUsername)
	client, err := vcenter.NewClient(ctx, &vcenter.Config{
		Host:     flagHost,
		Username: flagUsername,
		Password: password,
		Port:     flagPort,
		Insecure: flagInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logger.Warn("Failed to close vCenter session", "error", err)
		}
	}()

	return fn(ctx, lifecycle.NewOperator(client, logger), logger)
}
