package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bitcodr/waplane/internal/reconciler"
	"github.com/bitcodr/waplane/internal/webserver"
)

func registerReconcilerRoutes() {
	webserver.ApiPOST("/handover/reconcile", postHandoverReconcile)
}

// postHandoverReconcile runs a sweep on demand. With dry_run set it only
// reports what a real sweep would release.
func postHandoverReconcile(c echo.Context) error {
	var opts reconciler.Options
	if err := c.Bind(&opts); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if opts.TimeoutMinutes <= 0 {
		if v := deps.App.GetSettingsInt64Value("handover", "TimeoutMinutes"); v > 0 {
			opts.TimeoutMinutes = int(v)
		}
	}

	summary, err := deps.Reconciler.Sweep(c.Request().Context(), opts)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "SWEEP_FAILED", "Reconciler sweep failed", err.Error())
	}
	zap.L().Info("webapi: manual handover sweep",
		zap.Int("checked", summary.TotalChecked),
		zap.Int("released", summary.Released),
		zap.Bool("dry_run", summary.DryRun))
	return ok(c, summary)
}
