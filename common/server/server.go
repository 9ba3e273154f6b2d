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

	"github.com/diaflow/diaflow/common/logger"
)

const drainTimeout = 30 * time.Second

// Server runs an HTTP handler and drains in-flight requests on SIGINT or
// SIGTERM before returning. Executions started over the API keep their
// grace period to reach a terminal state.
type Server struct {
	name string
	http *http.Server
	log  *logger.Logger
}

func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		name: name,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Start serves until the listener fails or a shutdown signal arrives.
// A clean shutdown returns nil.
func (s *Server) Start() error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info(s.name+" listening", "addr", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listener: %w", err)
	case sig := <-sigc:
		s.log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Error("drain timed out, closing", "error", err)
		return s.http.Close()
	}

	s.log.Info("shutdown complete")
	return nil
}
