package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oshokin/crx-builder/internal/config"
	"github.com/oshokin/crx-builder/internal/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Options controls the preview server.
type Options struct {
	// ConfigPath specifies the path to the settings file.
	ConfigPath string
	// Root overrides the configured working root.
	Root string
	// ListenAddress overrides the configured listen address.
	ListenAddress string
}

// Run serves the root until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "preview")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	root := cfg.Root
	if opts.Root != "" {
		root = opts.Root
	}

	address := cfg.ListenAddress
	if opts.ListenAddress != "" {
		address = opts.ListenAddress
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	return Serve(ctx, lis, root)
}

// Serve handles requests on lis until ctx is canceled, then shuts down gracefully.
func Serve(ctx context.Context, lis net.Listener, root string) error {
	server := &http.Server{
		Handler:           NewHandler(root),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// stop also fires when the server fails on its own.
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()

	logger.InfoKV(ctx, "Preview server listening", "listen_address", lis.Addr().String(), "root", root)

	// Done channel is closed after Shutdown finishes so Serve returns only
	// once in-flight requests are drained.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-stopCtx.Done()

		logger.Info(ctx, "Shutting down preview server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorKV(ctx, "Preview server shutdown", "error", err)
		}
	}()

	serveErr := server.Serve(lis)

	stop()
	<-done

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("serve preview: %w", serveErr)
	}

	logger.Info(ctx, "Preview server stopped")

	return nil
}
