package webapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/webserver"
)

type settingPayload struct {
	Type  string `json:"type" validate:"required,max=50"`
	Name  string `json:"name" validate:"required,max=100"`
	Value string `json:"value" validate:"omitempty,max=2000"`
}

func registerSettingsRoutes() {
	webserver.ApiGET("/settings", listSettings)
	webserver.ApiPUT("/settings", putSetting)
}

// listSettings returns sys_config rows, optionally filtered by type
func listSettings(c echo.Context) error {
	var settings []domain.SysConfig
	query := GetDB(c).Model(&domain.SysConfig{})
	if t := strings.TrimSpace(c.QueryParam("type")); t != "" {
		query = query.Where("type = ?", t)
	}
	if err := query.Order("type, sort").Find(&settings).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list settings", err.Error())
	}
	return ok(c, settings)
}

// putSetting writes one setting value. The settings cache reloads on the
// next read after Set.
func putSetting(c echo.Context) error {
	var payload settingPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if err := deps.App.SetSettingsValue(payload.Type, payload.Name, payload.Value); err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update setting", err.Error())
	}
	return ok(c, payload)
}
