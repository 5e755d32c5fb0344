package webapi

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/webserver"
	"github.com/bitcodr/waplane/pkg/common"
)

func registerAuthRoutes() {
	webserver.ApiPOST("/auth/login", postLogin)
}

// postLogin authenticates an operator and issues a JWT for the admin API.
func postLogin(c echo.Context) error {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Username == "" || payload.Password == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "username and password are required", nil)
	}

	var operator domain.SysOperator
	if err := GetDB(c).Where("username = ? AND status = ?", payload.Username, common.ENABLED).
		First(&operator).Error; err != nil {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid credentials", nil)
	}

	secret := deps.App.Config().Web.Secret
	if !common.CheckPassword(payload.Password, secret, operator.Password) {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid credentials", nil)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":   operator.ID,
		"uname": operator.Username,
		"level": operator.Level,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TOKEN_FAILED", "Failed to sign token", err.Error())
	}

	GetDB(c).Model(&domain.SysOperator{}).Where("id = ?", operator.ID).
		Update("last_login", time.Now())
	zap.L().Info("webapi: operator login", zap.String("username", operator.Username))

	return ok(c, map[string]interface{}{
		"token":    signed,
		"id":       operator.ID,
		"username": operator.Username,
		"realname": operator.Realname,
		"level":    operator.Level,
	})
}
