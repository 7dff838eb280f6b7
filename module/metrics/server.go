package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/onflow/sectionnet/module/component"
	"github.com/onflow/sectionnet/module/irrecoverable"
)

const shutdownTimeout = 5 * time.Second

// Server serves the metrics of a gatherer on /metrics, and optionally the
// pprof handlers on /debug/pprof/.
type Server struct {
	*component.ComponentManager
	log    zerolog.Logger
	addr   string
	server *http.Server
}

// NewServer returns a metrics server listening on port once started. Port 0
// picks a free port, see Addr.
func NewServer(log zerolog.Logger, port uint, gatherer prometheus.Gatherer, profiler bool) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if profiler {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}

	s := &Server{
		log:    log.With().Str("component", "metrics_server").Logger(),
		addr:   ":" + strconv.Itoa(int(port)),
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}
	s.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(s.serve).
		Build()
	return s
}

// Addr is the address the server listens on, once ready.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		ctx.Throw(fmt.Errorf("could not listen on %s: %w", s.addr, err))
	}
	s.addr = listener.Addr().String()
	s.log.Info().Str("address", s.addr).Msg("metrics server started")
	ready()

	served := make(chan error, 1)
	go func() {
		served <- s.server.Serve(listener)
	}()

	select {
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			ctx.Throw(fmt.Errorf("metrics server failed: %w", err))
		}
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdown); err != nil {
			s.log.Warn().Err(err).Msg("metrics server did not shut down cleanly")
		}
		s.log.Debug().Msg("metrics server shut down")
	}
}
