package admin

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server runs the admin handler on a listener
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr; the server is not serving until Serve
func Listen(addr string, h http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.New().Wrap(ErrServerFailed, err)
	}

	return &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		ln: ln,
	}, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until the server is shut down
func (s *Server) Serve() error {
	logger.Info().Str("addr", s.Addr()).Msg("Admin server listening")

	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(ErrServerFailed, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}
