package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensneuse/abstractlogger"
	"github.com/n9te9/go-graphql-federation-planner/gateway"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Version is reported by the version command and as the service version of traces.
const Version = "v0.1.0"

const shutdownTimeout = 5 * time.Second

// NewHandler builds the plan service handler for opt.
func NewHandler(ctx context.Context, opt gateway.GatewayOption, logger abstractlogger.Logger) (http.Handler, error) {
	gw, err := gateway.NewGateway(ctx, opt, logger)
	if err != nil {
		return nil, err
	}
	if opt.Opentelemetry.TracingSetting.Enable {
		return otelhttp.NewHandler(gw, opt.ServiceName), nil
	}
	return gw, nil
}

// Run serves the plan service until SIGINT or SIGTERM, then shuts down within 5s.
func Run(opt gateway.GatewayOption, logger abstractlogger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if opt.Opentelemetry.TracingSetting.Enable {
		shutdown, err := InitTracer(ctx, opt.ServiceName, Version)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("tracer shutdown failed", abstractlogger.Error(err))
			}
		}()
	}

	handler, err := NewHandler(ctx, opt, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opt.Port),
		Handler:           handler,
		ReadHeaderTimeout: opt.Timeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("plan service started",
			abstractlogger.String("addr", srv.Addr),
			abstractlogger.String("endpoint", opt.Endpoint),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down plan service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
