// Package webapi exposes the control plane over HTTP: webhook intake,
// outbound sends, ownership state, triage, reconciler sweeps and the
// operational admin endpoints.
package webapi

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/bitcodr/waplane/internal/app"
	"github.com/bitcodr/waplane/internal/convstate"
	"github.com/bitcodr/waplane/internal/department"
	"github.com/bitcodr/waplane/internal/ledger"
	"github.com/bitcodr/waplane/internal/reconciler"
	"github.com/bitcodr/waplane/internal/router"
)

// Deps carries everything the handlers need. Wired once in main.
type Deps struct {
	App         app.AppContext
	Ledger      *ledger.Ledger
	States      *convstate.Store
	Departments *department.Resolver
	Router      *router.Router
	Reconciler  *reconciler.Reconciler
}

var deps *Deps

// Init stores handler dependencies and registers all routes.
func Init(d *Deps) {
	deps = d
	registerAuthRoutes()
	registerWebhookRoutes()
	registerMessageRoutes()
	registerConversationRoutes()
	registerReconcilerRoutes()
	registerSchedulerRoutes()
	registerSettingsRoutes()
}

// GetDB returns the application database handle.
func GetDB(c echo.Context) *gorm.DB {
	_ = c
	return deps.App.DB()
}

// RestResult is the JSON envelope for API responses.
type RestResult struct {
	Code    int         `json:"code"`
	Msgtype string      `json:"msgtype,omitempty"`
	Message string      `json:"message,omitempty"`
	Detail  interface{} `json:"detail,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse wraps paginated list results.
type ListResponse struct {
	TotalCount int64       `json:"totalCount"`
	Pos        int         `json:"pos"`
	Data       interface{} `json:"data"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(200, RestResult{Code: 0, Data: data})
}

func fail(c echo.Context, status int, msgtype, message string, detail interface{}) error {
	return c.JSON(status, RestResult{Code: 1, Msgtype: msgtype, Message: message, Detail: detail})
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+": "+fe.Tag())
		}
		return fail(c, 400, "VALIDATION_ERROR", "Request validation failed", fields)
	}
	return fail(c, 400, "VALIDATION_ERROR", "Request validation failed", err.Error())
}
