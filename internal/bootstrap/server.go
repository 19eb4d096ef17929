package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Domenick1991/airreserve/api"
	reservationsapi "github.com/Domenick1991/airreserve/internal/api/reservations_service_api"
	"github.com/Domenick1991/airreserve/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const swaggerSpec = "/swagger/reservations.swagger.json"

type Servers struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	health     *health.Server
	healthConn *grpc.ClientConn
}

// Serve runs the API servers and, for in-memory storage, the expiration
// sweep beside them.
func Serve(ctx context.Context, app *App) error {
	return serve(ctx, app, Run)
}

func serve(ctx context.Context, app *App, run func(context.Context, *App) error) error {
	if !app.ReclaimsInProcess() {
		return run(ctx, app)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return run(gctx, app)
	})
	g.Go(func() error {
		if err := app.Reclaimer().Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// Run starts gRPC and HTTP servers and blocks until context is canceled or a server fails.
func Run(ctx context.Context, app *App) error {
	s, err := newServers(app)
	if err != nil {
		return err
	}
	defer s.healthConn.Close()

	errCh := make(chan error, 2)

	// gRPC server
	lis, err := net.Listen("tcp", app.Config.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", app.Config.GRPC.Address, err)
	}
	go func() { errCh <- s.grpcServer.Serve(lis) }()

	// HTTP API, health and docs
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	app.Logger.Info("servers started", "http", app.Config.HTTP.Address, "grpc", app.Config.GRPC.Address)

	select {
	case err := <-errCh:
		s.grpcServer.Stop()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newServers(app *App) (*Servers, error) {
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(reservationsapi.LoggingInterceptor(app.Logger)))
	reservationsapi.RegisterReservationsServiceServer(grpcSrv,
		reservationsapi.NewServer(app.Flights, app.Bookings, app.Payments))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(reservationsapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	conn, err := grpc.NewClient("passthrough:///"+app.Config.GRPC.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial gRPC health: %w", err)
	}
	gateway := runtime.NewServeMux(runtime.WithHealthzEndpoint(healthpb.NewHealthClient(conn)))

	return &Servers{
		grpcServer: grpcSrv,
		httpServer: &http.Server{
			Addr:              app.Config.HTTP.Address,
			Handler:           newRouter(app, gateway),
			ReadHeaderTimeout: 10 * time.Second,
		},
		health:     healthSrv,
		healthConn: conn,
	}, nil
}

func newRouter(app *App, gateway http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(app.Logger))

	v1 := router.Group("/api/v1")
	api.NewFlightHandler(app.Flights).Register(v1.Group("/flights"))
	api.NewBookingHandler(app.Bookings, app.Payments).Register(v1.Group("/bookings"))
	payments := api.NewPaymentHandler(app.Payments)
	payments.Register(v1.Group("/payments"))
	payments.RegisterCallbacks(v1.Group("/gateway/callbacks"))

	router.GET("/healthz", gin.WrapH(gateway))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if dir := app.Config.HTTP.SwaggerDir; dir != "" {
		router.Static("/swagger", dir)
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL(swaggerSpec))))
	}
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
		}
		logger.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}
