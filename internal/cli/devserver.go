package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/devserver"
)

// DevServerOptions holds flags for the devserver command.
type DevServerOptions struct {
	*RootOptions
	Addr string

	// listening, when set, receives the bound address once the listener is
	// open (for tests using port 0).
	listening chan<- string
}

// NewDevServerCommand creates the devserver command.
func NewDevServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve an in-memory upload and entity store for development",
		Long: `Start an in-memory stand-in for the remote object-upload and entity
services. Point remote.base_url at it to exercise capture and sync end to end.
Entities are validated against the configured collection schemas, so rejected
payloads come back as 422 and land in the correction flow.

Example:
  fieldsync devserver --addr 127.0.0.1:8787
  FIELDSYNC_REMOTE_URL=http://127.0.0.1:8787 fieldsync sync`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevServer(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (defaults to devserver.addr)")

	return cmd
}

func runDevServer(cmd *cobra.Command, opts *DevServerOptions) error {
	cfg, logger, logCloser, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logCloser.Close()

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.DevServer.Addr
	}

	serverOpts := []devserver.Option{
		devserver.WithLogger(logger),
		devserver.WithToken(cfg.DevServer.Token),
	}
	if cfg.DevServer.PublicURL != "" {
		serverOpts = append(serverOpts, devserver.WithPublicURL(cfg.DevServer.PublicURL))
	}
	if registry != nil {
		serverOpts = append(serverOpts, devserver.WithValidator(registry))
		logger.Info("validating entities", "collections", registry.Collections())
	}

	srv := &http.Server{
		Handler:           devserver.New(serverOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Info("devserver listening", "addr", ln.Addr().String())
	if opts.listening != nil {
		opts.listening <- ln.Addr().String()
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "devserver failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "devserver shutdown", err)
	}
	logger.Info("devserver stopped")
	return nil
}
