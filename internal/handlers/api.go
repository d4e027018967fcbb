package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gridport-io/gridport/internal/database"
	"github.com/gridport-io/gridport/internal/fflags"
	"github.com/gridport-io/gridport/internal/introspect"
	"github.com/gridport-io/gridport/internal/models"
	"github.com/gridport-io/gridport/internal/records"
	"github.com/gridport-io/gridport/internal/signalbus"
	"github.com/gridport-io/gridport/internal/util"
	"github.com/gridport-io/gridport/internal/widgets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/gridport-io/gridport/internal/handlers")
}

type API struct {
	logger       *zap.SugaredLogger
	db           *gorm.DB
	transaction  database.TransactionFunc
	dialect      database.Dialect
	signalBus    signalbus.SignalBus
	introspector *introspect.Introspector
	store        *records.Store
	widgets      *widgets.Registry
	fflags       *fflags.FFlags
	URL          string
	URLParsed    *url.URL
}

func NewAPI(
	parent context.Context,
	logger *zap.SugaredLogger,
	db *gorm.DB,
	signalBus signalbus.SignalBus,
	fflags *fflags.FFlags,
) (*API, error) {

	_, span := tracer.Start(parent, "NewAPI")
	defer span.End()

	transactionFunc, dialect, err := database.GetTransactionFunc(db)
	if err != nil {
		return nil, err
	}

	introspector := introspect.New(db, dialect, logger)

	api := &API{
		logger:       logger,
		db:           db,
		transaction:  transactionFunc,
		dialect:      dialect,
		signalBus:    signalBus,
		introspector: introspector,
		store:        records.NewStore(db, introspector, signalBus, transactionFunc, logger),
		widgets:      widgets.NewRegistry(),
		fflags:       fflags,
	}
	return api, nil
}

func (api *API) Logger(ctx context.Context) *zap.SugaredLogger {
	return util.WithTrace(ctx, api.logger)
}

// Store exposes the row store, mainly so tests and embedding consumers can
// drive the same code path the HTTP surface uses.
func (api *API) Store() *records.Store {
	return api.store
}

// Introspector exposes the schema introspector.
func (api *API) Introspector() *introspect.Introspector {
	return api.introspector
}

// resourceURL resolves an api path against the externally reachable base URL
// so created resources get an absolute Location header. Without a configured
// base URL the path is returned as is.
func (api *API) resourceURL(path string) string {
	if api.URLParsed == nil {
		return path
	}
	return api.URLParsed.ResolveReference(&url.URL{Path: path}).String()
}

func (api *API) sendInternalServerError(c *gin.Context, err error) {
	api.Logger(c.Request.Context()).Errorf("request failed: %s", err)
	c.JSON(http.StatusInternalServerError, models.NewApiInternalError(err))
}
