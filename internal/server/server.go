// Package server runs the HTTP and gRPC listeners of the process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/syntrixbase/livefeed/internal/server/ratelimit"
)

var ErrAlreadyStarted = errors.New("server already started")

// Service is the network layer. Routes and gRPC services must be registered
// before Start.
type Service interface {
	// Start serves until ctx is canceled or a listener fails.
	Start(ctx context.Context) error

	// Stop drains both listeners, forcing gRPC closed when ctx expires.
	Stop(ctx context.Context) error

	// Handle mounts a request/response endpoint.
	Handle(pattern string, h http.Handler)

	// HandleStream mounts a long-lived streaming endpoint. Openings are
	// rate limited per client and each stream is logged when it ends.
	HandleStream(pattern string, h http.Handler)

	RegisterGRPCService(desc *grpc.ServiceDesc, impl any)
}

type httpGRPCServer struct {
	cfg    Config
	logger *slog.Logger

	mux     *http.ServeMux
	http    *http.Server
	grpc    *grpc.Server
	streams *ratelimit.Limiter // nil when stream limiting is off

	mu      sync.Mutex
	started bool
}

// New builds the servers. Nothing listens until Start.
func New(cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &httpGRPCServer{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		mux:    http.NewServeMux(),
	}

	if cfg.StreamLimit.Enabled && cfg.StreamLimit.Burst > 0 && cfg.StreamLimit.Window > 0 {
		s.streams = ratelimit.New(cfg.StreamLimit)
	}
	if cfg.MetricsPath != "" {
		s.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	s.grpc = grpc.NewServer(
		grpc.MaxConcurrentStreams(uint32(cfg.GRPCMaxConcurrent)),
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	)
	if cfg.EnableReflection {
		reflection.Register(s.grpc)
	}
	return s
}

func (s *httpGRPCServer) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, s.accessLog(h))
}

func (s *httpGRPCServer) HandleStream(pattern string, h http.Handler) {
	h = s.streamLog(h)
	if s.streams != nil {
		h = s.admitStream(h)
	}
	s.mux.Handle(pattern, h)
}

func (s *httpGRPCServer) RegisterGRPCService(desc *grpc.ServiceDesc, impl any) {
	s.grpc.RegisterService(desc, impl)
}

func (s *httpGRPCServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.http = &http.Server{
		Addr:         s.addr(s.cfg.HTTPPort),
		Handler:      s.baseMiddleware(s.mux),
		ReadTimeout:  s.cfg.HTTPReadTimeout,
		WriteTimeout: s.cfg.HTTPWriteTimeout,
		IdleTimeout:  s.cfg.HTTPIdleTimeout,
	}
	s.mu.Unlock()

	failed := make(chan error, 2)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", s.addr(s.cfg.GRPCPort))
		if err != nil {
			failed <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		s.logger.Info("Starting gRPC server", "addr", lis.Addr().String())
		if err := s.grpc.Serve(lis); err != nil {
			failed <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *httpGRPCServer) addr(port int) string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(port))
}

// Stop shuts both servers down in parallel. Streaming handlers are expected
// to have been ended by their owner first; Shutdown does not interrupt them.
func (s *httpGRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		wg      conc.WaitGroup
		httpErr error
	)
	if s.http != nil {
		wg.Go(func() {
			s.logger.Info("Stopping HTTP server")
			if err := s.http.Shutdown(ctx); err != nil {
				httpErr = fmt.Errorf("http shutdown: %w", err)
			}
		})
	}
	wg.Go(func() {
		s.logger.Info("Stopping gRPC server")
		drained := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			s.logger.Warn("gRPC drain timed out, closing open streams")
			s.grpc.Stop()
		}
	})
	wg.Wait()

	if s.streams != nil {
		s.streams.Stop()
	}
	return httpErr
}
