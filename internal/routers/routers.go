package routers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gridport-io/gridport/internal/handlers"
	"github.com/gridport-io/gridport/internal/models"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const name = "github.com/gridport-io/gridport/internal/routers"

type APIRouterOptions struct {
	Logger *zap.SugaredLogger
	Api    *handlers.API

	// Origins allowed to call the api from a browser. Empty disables cors.
	TrustedOrigins []string

	// Bearer token required on /api routes. Empty leaves the api open,
	// which is only sane for local development.
	AdminToken string
}

func NewAPIRouter(o APIRouterOptions) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	loggerMiddleware := ginzap.GinzapWithConfig(o.Logger.Desugar(), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		Context: func(c *gin.Context) []zapcore.Field {
			return []zapcore.Field{
				zap.String("traceID", trace.SpanFromContext(c.Request.Context()).SpanContext().TraceID().String()),
			}
		},
	})

	r.Use(otelgin.Middleware(name, otelgin.WithPropagators(
		propagation.TraceContext{},
	)))
	r.Use(ginzap.RecoveryWithZap(o.Logger.Desugar(), true))

	if len(o.TrustedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowCredentials = true
		corsConfig.AllowOrigins = o.TrustedOrigins
		corsConfig.ExposeHeaders = append(corsConfig.ExposeHeaders, handlers.TotalCountHeader)
		r.Use(cors.New(corsConfig))
	}

	newPrometheus().Use(r)

	private := r.Group("/api", loggerMiddleware)
	{
		api := o.Api
		private.Use(tokenAuth(o.AdminToken))

		// Feature Flags
		private.GET("/fflags", api.ListFeatureFlags)
		private.GET("/fflags/:name", api.GetFeatureFlag)

		// Schema
		private.GET("/tables", api.ListTables)
		private.GET("/tables/:table/columns", api.GetTableColumns)
		private.GET("/tables/:table/fields", api.GetTableFields)

		// Rows
		private.GET("/tables/:table/rows", api.ListRows)
		private.GET("/tables/:table/rows/:id", api.GetRow)
		private.POST("/tables/:table/rows", api.CreateRow)
		private.PATCH("/tables/:table/rows/:id", api.UpdateRow)
		private.DELETE("/tables/:table/rows/:id", api.DeleteRow)

		// Companies
		private.GET("/companies", api.ListCompanies)
		private.GET("/companies/:id", api.GetCompany)
		private.POST("/companies", api.CreateCompany)
		private.DELETE("/companies/:id", api.DeleteCompany)

		// Profiles
		private.GET("/profiles/:user_id", api.GetProfile)
		private.PATCH("/profiles/:user_id", api.UpdateProfile)

		// Devices
		private.GET("/devices", api.ListDevices)
		private.GET("/devices/:id", api.GetDevice)
		private.POST("/devices", api.CreateDevice)
		private.PATCH("/devices/:id", api.UpdateDevice)
		private.DELETE("/devices/:id", api.DeleteDevice)

		// Dashboard
		private.GET("/dashboard", api.GetDashboard)
	}

	// Don't log the health/readiness checks.
	r.GET("/ready", o.Api.Ready)
	r.GET("/live", o.Api.Live)

	return r, nil
}

func tokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		header := c.Request.Header.Get("Authorization")
		presented, found := strings.CutPrefix(header, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewNotAllowedError("invalid bearer token"))
			return
		}
		c.Next()
	}
}

func newPrometheus() *ginprometheus.Prometheus {
	p := ginprometheus.NewPrometheus("apiserver")
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		url := c.Request.URL.Path
		for _, p := range c.Params {
			if p.Key == "id" {
				url = strings.Replace(url, p.Value, ":id", 1)
				break
			}
			if p.Key == "table" {
				url = strings.Replace(url, p.Value, ":table", 1)
			}
		}
		return url
	}
	return p
}
