package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gridport-io/gridport/internal/database"
	"github.com/gridport-io/gridport/internal/fflags"
	"github.com/gridport-io/gridport/internal/handlers"
	"github.com/gridport-io/gridport/internal/routers"
	"github.com/gridport-io/gridport/internal/signalbus"
	"github.com/gridport-io/gridport/internal/util"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.18.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/credentials"
	"gorm.io/gorm"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("apiserver")
}

func main() {
	// Override to capitalize "Show"
	cli.HelpFlag.(*cli.BoolFlag).Usage = "Show help"
	app := &cli.Command{
		Name: "apiserver",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Value:   false,
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("GRIDPORT_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Value:   "0.0.0.0:8080",
				Usage:   "The address and port to listen for HTTP requests on",
				Sources: cli.EnvVars("GRIDPORT_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "url",
				Value:   "http://localhost:8080",
				Usage:   "URL the api is reachable at",
				Sources: cli.EnvVars("GRIDPORT_URL"),
			},
			&cli.StringFlag{
				Name:    "db-host",
				Value:   "apiserver-db",
				Usage:   "Database host name",
				Sources: cli.EnvVars("GRIDPORT_DB_HOST"),
			},
			&cli.StringFlag{
				Name:    "db-port",
				Value:   "5432",
				Usage:   "Database port",
				Sources: cli.EnvVars("GRIDPORT_DB_PORT"),
			},
			&cli.StringFlag{
				Name:    "db-user",
				Value:   "apiserver",
				Usage:   "Database user",
				Sources: cli.EnvVars("GRIDPORT_DB_USER"),
			},
			&cli.StringFlag{
				Name:    "db-password",
				Value:   "secret",
				Usage:   "Database password",
				Sources: cli.EnvVars("GRIDPORT_DB_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "db-name",
				Value:   "apiserver",
				Usage:   "Database name",
				Sources: cli.EnvVars("GRIDPORT_DB_NAME"),
			},
			&cli.StringFlag{
				Name:    "db-sslmode",
				Value:   "disable",
				Usage:   "Database ssl mode",
				Sources: cli.EnvVars("GRIDPORT_DB_SSLMODE"),
			},
			&cli.StringSliceFlag{
				Name:    "origins",
				Usage:   "Trusted origins for cors, empty disables cors",
				Sources: cli.EnvVars("GRIDPORT_ORIGINS"),
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Value:   "",
				Usage:   "Bearer token required on /api routes, empty disables auth",
				Sources: cli.EnvVars("GRIDPORT_ADMIN_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "trace-endpoint",
				Value:   "",
				Usage:   "Address of the otlp trace collector",
				Sources: cli.EnvVars("GRIDPORT_TRACE_ENDPOINT"),
			},
			&cli.BoolFlag{
				Name:    "trace-insecure",
				Value:   false,
				Usage:   "Connect to the trace collector without TLS",
				Sources: cli.EnvVars("GRIDPORT_TRACE_INSECURE"),
			},
		},

		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
			ctx, span := tracer.Start(ctx, "Run")
			defer span.End()
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, dsn string) {

				signalBus := signalbus.NewPgSignalBus(signalbus.NewSignalBus(), db, dsn, logger.Sugar())
				wg := &sync.WaitGroup{}
				signalBus.Start(ctx, wg)

				fflags := fflags.NewFFlags(logger.Sugar())

				api, err := handlers.NewAPI(ctx, logger.Sugar(), db, signalBus, fflags)
				if err != nil {
					log.Fatal(err)
				}
				api.URL = command.String("url")
				api.URLParsed, err = url.Parse(api.URL)
				if err != nil {
					log.Fatal(fmt.Errorf("invalid url: %w", err))
				}

				router, err := routers.NewAPIRouter(routers.APIRouterOptions{
					Logger:         logger.Sugar(),
					Api:            api,
					TrustedOrigins: command.StringSlice("origins"),
					AdminToken:     command.String("admin-token"),
				})
				if err != nil {
					log.Fatal(err)
				}

				httpServer := &http.Server{
					Addr:              command.String("listen"),
					Handler:           router,
					ReadTimeout:       5 * time.Second,
					ReadHeaderTimeout: 5 * time.Second,
					// long lived watch streams disallow a write timeout
				}
				defer func() {
					_ = httpServer.Close()
				}()

				serveErrors := make(chan error, 1)
				util.GoWithWaitGroup(wg, func() {
					if err := httpServer.ListenAndServe(); err != nil {
						serveErrors <- err
					}
				})

				// Wait for a shutdown signal or a server error
				beginShutdown := &sync.WaitGroup{}
				util.GoWithWaitGroup(beginShutdown, func() {
					select {
					case err := <-serveErrors:
						serveErrors <- err // put it back
					case <-ctx.Done():
					}
				})
				beginShutdown.Wait()

				// Try to do a graceful shutdown of the server for 5 seconds...
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				go func() {
					_ = httpServer.Shutdown(shutdownCtx)
				}()

				serversDone := make(chan struct{})
				go func() {
					wg.Wait()
					close(serversDone)
				}()

				err = nil
			forLoop:
				for {
					select {
					case err = <-serveErrors: // save any errors
					case <-shutdownCtx.Done():
						break forLoop
					case <-serversDone:
						break forLoop
					}
				}

				if err != nil && err != http.ErrServerClosed {
					log.Fatal(err)
				}
			})
			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func getLogger(command *cli.Command) *zap.Logger {
	var logger *zap.Logger
	var err error
	// set the log level
	if command.Bool("debug") {
		logConfig := zap.NewProductionConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		logger, err = logConfig.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

func withLoggerAndDB(ctx context.Context, command *cli.Command, f func(logger *zap.Logger, db *gorm.DB, dsn string)) {
	logger := getLogger(command)
	cleanup := initTracer(logger.Sugar(), command.Bool("trace-insecure"), command.String("trace-endpoint"))
	defer func() {
		if cleanup == nil {
			return
		}
		if err := cleanup(ctx); err != nil {
			logger.Error(err.Error())
		}
	}()

	dsn := database.DSN(
		command.String("db-host"),
		command.String("db-user"),
		command.String("db-password"),
		command.String("db-name"),
		command.String("db-port"),
		command.String("db-sslmode"),
	)
	db, err := database.NewDatabase(logger.Sugar(), dsn)
	if err != nil {
		log.Fatal(err)
	}

	f(logger, db, dsn)
}

func initTracer(logger *zap.SugaredLogger, insecure bool, collector string) func(context.Context) error {
	if collector == "" {
		logger.Info("No collector endpoint configured")
		otel.SetTracerProvider(
			sdktrace.NewTracerProvider(
				sdktrace.WithSampler(sdktrace.AlwaysSample()),
			),
		)
		return nil
	}
	secureOption := otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if insecure {
		secureOption = otlptracegrpc.WithInsecure()
	}
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			secureOption,
			otlptracegrpc.WithEndpoint(collector),
		),
	)
	if err != nil {
		logger.Errorf("Unable to create open telemetry exporter: %s", err.Error())
		return nil
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "apiserver"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		logger.Errorf("Unable to create resources: %s", err.Error())
		return nil
	}

	deployEnvironment := os.Getenv("GRIDPORT_ENVIRONMENT")
	if deployEnvironment == "" {
		deployEnvironment = "development"
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName("apiserver"),
				semconv.DeploymentEnvironment(deployEnvironment),
			)),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown
}
