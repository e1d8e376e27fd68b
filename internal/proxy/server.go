package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/travelplan/shellcache/internal/cache"
	"github.com/travelplan/shellcache/internal/config"
	"github.com/travelplan/shellcache/internal/worker"
)

// Server hosts the offline cache controller behind an HTTP(S) proxy
type Server struct {
	config     *config.Config
	storage    cache.Storage
	controller *worker.Controller
	registry   *prometheus.Registry
	proxy      *goproxy.ProxyHttpServer
	httpServer *http.Server
}

// New creates a new proxy server
func New(cfg *config.Config) (*Server, error) {
	storage, err := cache.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("invalid storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	controller, err := worker.FromConfig(cfg, storage, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	s := &Server{
		config:     cfg,
		storage:    storage,
		controller: controller,
		registry:   registry,
		proxy:      goproxy.NewProxyHttpServer(),
	}
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: s.proxy,
	}

	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.NonproxyHandler = s.adminRouter()
	if cfg.Server.HTTPS.Enabled {
		s.setupHTTPSProxyHandler()
	}
	s.proxy.OnRequest().DoFunc(s.handleRequest)

	return s, nil
}

// GetProxy returns the HTTP handler of the proxy
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

func (s *Server) Controller() *worker.Controller {
	return s.controller
}

func (s *Server) Storage() cache.Storage {
	return s.storage
}

// Init prepares the storage, then installs and activates the controller
func (s *Server) Init(ctx context.Context) error {
	if err := s.storage.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := s.Bootstrap(ctx); err != nil {
		logrus.Errorf("Controller not active, requests pass through uncached: %v", err)
	}
	return nil
}

// Bootstrap installs the configured version and activates it without
// waiting. When install fails, a version installed by an earlier run is
// activated instead so the app keeps working offline.
func (s *Server) Bootstrap(ctx context.Context) error {
	if err := s.controller.OnInstall(ctx); err != nil {
		logrus.Warnf("Install of %s failed: %v", s.controller.VersionTag(), err)

		restored, restoreErr := s.controller.Restore(ctx)
		if restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		if !restored {
			return err
		}
	}

	if _, err := s.controller.OnActivate(ctx); err != nil {
		return err
	}
	return nil
}

// Start starts the proxy server
func (s *Server) Start() error {
	if err := s.Init(context.Background()); err != nil {
		return err
	}

	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		go func() {
			if err := s.StartTransparentHTTPS(addr); err != nil {
				logrus.Errorf("Transparent HTTPS listener failed: %v", err)
			}
		}()
	}

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Scope: %s", s.config.Worker.Scope)
	logrus.Infof("Stores: %s, %s", s.controller.StaticStoreName(), s.controller.RuntimeStoreName())
	logrus.Infof("Storage backend: %s", s.config.Storage.Backend)

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for background cache writes
// and closes the storage. A Start still bootstrapping returns without
// serving.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.controller.Wait()
	return errors.Join(err, s.storage.Close())
}

// handleRequest lets the controller answer intercepted requests; everything
// else is forwarded by goproxy unchanged
func (s *Server) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp, handled := s.controller.OnFetch(r.Context(), r)
	if !handled {
		logrus.Debugf("Passing through %s %s", r.Method, r.URL)
		return r, nil
	}

	logrus.WithFields(logrus.Fields{
		"session": ctx.Session,
		"cache":   resp.Header.Get(worker.CacheHeader),
	}).Infof("%s %s -> %d", r.Method, r.URL, resp.StatusCode)
	return r, resp
}
