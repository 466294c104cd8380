// Package server implements the gateway's public HTTP surface:
// content retrieval by transaction ID, manifest path resolution, raw
// payload access and host based name resolution.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/paulbellamy/ratecounter"
	"github.com/permagate/permagate/async"
	"github.com/permagate/permagate/gateway/arns"
	"github.com/permagate/permagate/gateway/blocklist"
	"github.com/permagate/permagate/gateway/db/iface"
	"github.com/permagate/permagate/gateway/manifest"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/runtime"
	"github.com/pkg/errors"
	"github.com/rs/cors"
)

var _ runtime.Service = (*Service)(nil)

const txIDPattern = "[A-Za-z0-9_-]{43}"

// Config parameters for the HTTP service.
type Config struct {
	Host     string
	Port     int
	RootHost string // apex host; first subdomain labels resolve as names
	// GatewayID identifies this gateway in origin and via trails.
	// Defaults to RootHost.
	GatewayID      string
	AllowedOrigins []string
	Data           sources.ContiguousDataSource
	Attributes     iface.ReadOnlyDatabase
	Manifests      *manifest.Resolver
	Names          arns.Resolver // nil disables host based resolution
	Blocklist      blocklist.Checker
}

// Service serves the public data retrieval routes.
type Service struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cfg          *Config
	server       *http.Server
	startFailure error
	served       *ratecounter.RateCounter
	requests     *ratecounter.RateCounter
}

// New creates the HTTP service.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil || cfg.Data == nil {
		return nil, errors.New("server requires a data source")
	}
	if cfg.GatewayID == "" {
		cfg.GatewayID = cfg.RootHost
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		served:   ratecounter.NewRateCounter(time.Minute),
		requests: ratecounter.NewRateCounter(time.Minute),
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler returns the fully assembled route handler.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/raw/{id:"+txIDPattern+"}", s.handleRaw).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{id:"+txIDPattern+"}", s.handleData).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{id:"+txIDPattern+"}/{path:.*}", s.handleData).Methods(http.MethodGet, http.MethodHead)
	r.NotFoundHandler = http.HandlerFunc(s.handleUnknown)
	return s.corsMiddleware(s.logRequests(s.dispatchByHost(r)))
}

// Start begins serving requests.
func (s *Service) Start() {
	go func() {
		log.WithField("address", s.server.Addr).Info("Starting gateway HTTP server")
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("Failed to start gateway HTTP server")
			s.startFailure = err
			return
		}
	}()
	async.RunEvery(s.ctx, time.Minute, s.logThroughput)
}

// Stop the service with a graceful shutdown.
func (s *Service) Stop() error {
	if s.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(s.ctx, 2*time.Second)
		defer shutdownCancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("Existing connections terminated")
			} else {
				log.WithError(err).Error("Failed to gracefully shut down server")
			}
		}
	}
	s.cancel()
	return nil
}

// Status returns an error when the listener failed to come up.
func (s *Service) Status() error {
	if s.startFailure != nil {
		return s.startFailure
	}
	return nil
}

// dispatchByHost sends name subdomain requests to the name handler
// before any path routing happens.
func (s *Service) dispatchByHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if label := s.nameLabel(r); label != "" {
			s.handleName(w, r, label)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// nameLabel extracts the resolvable first label of a subdomain request
// against the configured root host. Nested subdomains and apex
// requests yield no label.
func (s *Service) nameLabel(r *http.Request) string {
	if s.cfg.Names == nil || s.cfg.RootHost == "" {
		return ""
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	suffix := "." + strings.ToLower(s.cfg.RootHost)
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") {
		return ""
	}
	return label
}

func (s *Service) corsMiddleware(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		MaxAge:         600,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(h)
}
