package setup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/tandem-social/tandem/internal/setup/config"
	"go.uber.org/zap"
)

// debugServer exposes runtime profiles on a loopback-only listener.
type debugServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// startDebugServer returns nil when profiling is disabled in the debug section.
func startDebugServer(cfg *config.Debug, logger *zap.Logger) (*debugServer, error) {
	if !cfg.EnablePprof {
		return nil, nil
	}

	// Register profiles on a private mux so nothing else leaks onto it
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Bind now so a taken port surfaces as a startup error
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.PprofPort))
	if err != nil {
		return nil, fmt.Errorf("failed to bind debug listener: %w", err)
	}

	s := &debugServer{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			// Profile and trace stream for their requested duration
			WriteTimeout: 2 * time.Minute,
		},
		listener: listener,
		logger:   logger.Named("debug"),
	}

	go func() {
		s.logger.Info("Serving profiles", zap.String("address", s.Addr()))
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Debug server stopped", zap.Error(err))
		}
	}()

	return s, nil
}

// Addr is the bound address, useful when the configured port is 0.
func (s *debugServer) Addr() string {
	return s.listener.Addr().String()
}

// Close stops accepting requests and waits for in-flight ones up to ctx.
func (s *debugServer) Close(ctx context.Context) error {
	// Shutdown also closes the listener
	return s.srv.Shutdown(ctx)
}
