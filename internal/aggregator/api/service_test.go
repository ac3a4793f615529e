package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTPServer struct {
	listenErr    error
	listenCalled chan struct{}
	shutdownErr  error
	shutdownHit  chan struct{}
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{
		listenCalled: make(chan struct{}),
		shutdownHit:  make(chan struct{}),
	}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	close(f.listenCalled)
	<-f.shutdownHit
	if f.listenErr != nil {
		return f.listenErr
	}
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	close(f.shutdownHit)
	return f.shutdownErr
}

func TestServiceShutsDownOnContextCancel(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	<-srv.listenCalled
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestServiceReturnsErrorOnListenFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.listenErr = errors.New("bind failed")
	close(srv.shutdownHit) // unblock ListenAndServe immediately

	svc := NewService(srv, time.Second)
	err := svc.Serve(context.Background())
	require.Error(t, err)
}

func TestServiceName(t *testing.T) {
	svc := NewService(newFakeHTTPServer(), time.Second)
	assert.Equal(t, "aggregator-api", svc.String())
}
