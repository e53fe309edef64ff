// Package http exposes the forwarder, the factory and the token over a JSON API.
//
// Write endpoints are relayed: the server simulates the call to report validation failures
// with their protocol error code, then submits it as a transaction signed by the relayer key.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ametist/accountbox/mechanisms/evm"
	evmsigner "github.com/ametist/accountbox/signers/evm"
)

const (
	// DefaultRequestTimeout bounds simulation, submission and receipt polling of one request
	DefaultRequestTimeout = 30 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Config wires the server to the deployed contracts
type Config struct {
	Forwarder common.Address
	Factory   common.Address
	Token     common.Address

	// Relayer submits transactions and performs reads
	Relayer *evmsigner.ClientSigner

	// RequestTimeout defaults to DefaultRequestTimeout
	RequestTimeout time.Duration

	// Registry receives the server metrics. A private registry is created when nil.
	Registry *prometheus.Registry
}

// Server is the relayer API
type Server struct {
	cfg     Config
	relayer *evmsigner.ClientSigner
	router  *gin.Engine
	metrics *metrics
}

// NewServer builds the router
func NewServer(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:     cfg,
		relayer: cfg.Relayer,
		metrics: newMetrics(cfg.Registry),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.GET("/forwarder/domain", s.handleDomain(cfg.Forwarder, evm.ForwarderABI))
	v1.GET("/forwarder/nonces/:address", s.handleNonce)
	v1.POST("/forwarder/verify", s.handleVerify)
	v1.POST("/forwarder/execute", s.handleExecute)
	v1.POST("/permit", s.handlePermit)
	v1.GET("/token/domain", s.handleDomain(cfg.Token, evm.TokenABI))
	v1.GET("/accounts/:owner/index/:index", s.handleAccountByIndex)
	v1.GET("/accounts/:owner/id/:id", s.handleAccountByID)
	v1.GET("/factory", s.handleFactory)
	v1.POST("/signatures/verify", s.handleVerifySignature)

	s.router = r
	return s
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Relayer API listening", "addr", addr, "relayer", s.relayer.Address())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// observe logs every request and records its metrics
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.observe(route, c.Writer.Status(), elapsed)
		log.Debug("Served request", "method", c.Request.Method, "route", route, "status", c.Writer.Status(), "elapsed", elapsed)
	}
}
