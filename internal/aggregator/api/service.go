package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// httpServer matches *http.Server's lifecycle methods, letting the
// supervised wrapper below be tested without a real listener.
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Service adapts an *http.Server's blocking ListenAndServe into a
// suture.Service: start in a goroutine, wait for ctx cancellation or a
// server error, then drain with a bounded shutdown timeout.
type Service struct {
	server          httpServer
	shutdownTimeout time.Duration
}

// NewService wraps server as a supervised service.
func NewService(server httpServer, shutdownTimeout time.Duration) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Service{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("aggregator api: server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("aggregator api: shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's log output.
func (s *Service) String() string {
	return "aggregator-api"
}
