package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/pulse/pkg/intake"
)

const serveShutdownTimeout = 35 * time.Second

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive session updates over HTTP and aggregate them",
	Long: `Run an HTTP intake that accepts newline-delimited JSON session updates
on ` + intake.SessionsPath + ` (the same line format as "pulse ingest") and folds
them into per-minute aggregates delivered through the configured transport.

When intake.secret is set, every request must carry an HMAC-SHA256 signature
of its body in the ` + intake.DefaultSignatureHeader + ` header ("sha256=<hex>").

The intake stops on SIGINT or SIGTERM, flushing pending aggregates first.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default is intake.addr from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.Intake.Addr
	if cmd.Flags().Changed("addr") {
		addr = serveAddr
	}

	srv, err := intake.NewServer(intake.Options{
		Addr:               addr,
		Secret:             rt.cfg.Intake.Secret,
		RateLimitPerMinute: rt.cfg.Intake.RateLimit,
		MaxBodyBytes:       rt.cfg.IntakeMaxBodyBytes(),
		TrustProxyHeaders:  rt.cfg.Intake.TrustProxyHeaders,
		Defaults:           rt.defaults(),
		Logger:             &rt.log,
	}, rt.flusher)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ln)
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Receiving sessions on http://%s%s\n", ln.Addr(), intake.SessionsPath)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-served:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		rt.log.Warn().Err(err).Msg("Session intake did not stop cleanly")
	}

	if err := rt.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: shutdown finished with errors: %v\n", err)
	}

	if serveErr != nil {
		return serveErr
	}
	fmt.Fprintln(out, "Session intake stopped")
	return nil
}
