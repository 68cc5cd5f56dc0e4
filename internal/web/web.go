package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"greenhouse/auth"
	"greenhouse/internal/conditional"
	"greenhouse/internal/metrics"
	"greenhouse/internal/mqtt"
	store "greenhouse/internal/redis"
	"greenhouse/internal/web/api"
	"greenhouse/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth    *auth.AuthModule
	Editor  *conditional.Editor
	Flashes *store.FlashStore
	Bus     mqtt.Bus
	Metrics *metrics.Metrics
	DB      Pinger
	Log     *zap.Logger
}

type WebServer struct {
	router *gin.Engine
	live   *api.LiveHub
	srv    *http.Server
	log    *zap.Logger
}

// NewWebServer builds the router and subscribes the live feed to the bus
func NewWebServer(deps Deps) (*WebServer, error) {
	router := gin.New()

	middlewareManager := middleware.NewMiddlewareManager(deps.Auth, deps.Log)
	router.Use(gin.Recovery(), middlewareManager.Logger())

	live := api.NewLiveHub(deps.Bus, deps.Log)
	if err := live.Start(); err != nil {
		return nil, err
	}

	api.RegisterAuthRoutes(router, deps.Auth, middlewareManager)
	api.RegisterUserRoutes(router, middlewareManager, deps.Auth, deps.Log)
	api.RegisterFunctionRoutes(router, middlewareManager, deps.Editor, deps.Flashes, deps.Log)
	api.RegisterLiveRoutes(router, middlewareManager, live)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.GET("/health", func(c *gin.Context) {
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(c, 2*time.Second)
			defer cancel()
			if err := deps.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &WebServer{
		router: router,
		live:   live,
		srv:    &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
		log:    deps.Log,
	}, nil
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// LiveClients reports how many websocket clients follow the live feed
func (ws *WebServer) LiveClients() int {
	return ws.live.Clients()
}

// Start serves on addr until Shutdown
func (ws *WebServer) Start(addr string) error {
	ws.srv.Addr = addr
	ws.log.Info("web server listening", zap.String("addr", addr))
	if err := ws.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	if err := ws.live.Stop(); err != nil {
		ws.log.Warn("stopping live feed", zap.Error(err))
	}
	return ws.srv.Shutdown(ctx)
}
