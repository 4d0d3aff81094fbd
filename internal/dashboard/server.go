// Package dashboard serves a read-only HTTP API over the pressure store and
// the scheduler state.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pressureflow/config"
	"pressureflow/internal/collector"
	"pressureflow/internal/metrics"
	"pressureflow/internal/storage"
	"pressureflow/logger"
	"pressureflow/models"
)

// defaultHistoryWindow is used when a history request names no range.
const defaultHistoryWindow = 24 * time.Hour

// StatusSource reports what the scheduler is doing.
type StatusSource interface {
	State() collector.State
	SkippedTicks() int64
	LastReport() *models.CycleReport
}

// Server hosts the gin API.
type Server struct {
	cfg        config.DashboardConfig
	log        *logger.Log
	store      storage.PressureStore
	status     StatusSource
	metrics    *metrics.Registry
	logStore   *logStore
	httpServer *http.Server
	now        func() time.Time
}

// NewServer constructs the API server when the dashboard is enabled and
// returns nil otherwise. status and reg may be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, store storage.PressureStore, status StatusSource, reg *metrics.Registry) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, errors.New("dashboard requires a pressure store")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		status:   status,
		metrics:  reg,
		logStore: logStore,
		now:      time.Now,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.logStore.close()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("starting dashboard API")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Handler builds the router. Every route is a GET.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/summary/latest", s.handleLatestSummary)
	api.GET("/summary/history", s.handleSummaryHistory)
	api.GET("/pressure/:symbol/latest", s.handleLatestRecord)
	api.GET("/pressure/:symbol/history", s.handleRecordHistory)
	api.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})

	return router
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"state": collector.StateIdle.String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":         s.status.State().String(),
		"skipped_ticks": s.status.SkippedTicks(),
		"last_cycle":    s.status.LastReport(),
	})
}

func (s *Server) handleLatestSummary(c *gin.Context) {
	sum, err := s.store.LatestSummary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleSummaryHistory(c *gin.Context) {
	from, to, err := s.parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := s.store.SummaryHistory(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "summaries": nonNil(items)})
}

func (s *Server) handleLatestRecord(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	rec, err := s.store.LatestRecord(c.Request.Context(), symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRecordHistory(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	from, to, err := s.parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := s.store.RecordHistory(c.Request.Context(), symbol, from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "from": from, "to": to, "records": nonNil(items)})
}

// parseRange reads RFC3339 from/to query parameters. Missing bounds default
// to the last 24 hours.
func (s *Server) parseRange(c *gin.Context) (time.Time, time.Time, error) {
	to := s.now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'to': expected RFC3339")
		}
		to = t.UTC()
	}
	from := to.Add(-defaultHistoryWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'from': expected RFC3339")
		}
		from = t.UTC()
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("'from' is after 'to'")
	}
	return from, to, nil
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{"path": c.FullPath()}).Error("store query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") && len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
