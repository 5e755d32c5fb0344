// Package webserver hosts the echo HTTP server. Admin API routes live under
// /api/v1 behind JWT auth; webhook routes are public and verified by the
// handlers themselves.
package webserver

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/bitcodr/waplane/config"
)

type payloadValidator struct {
	validate *validator.Validate
}

func (v *payloadValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type WebServer struct {
	root      *echo.Echo
	api       *echo.Group
	pub       *echo.Group
	appConfig *config.AppConfig
}

var server *WebServer

// Init builds the server singleton. Must be called before route
// registration.
func Init(cfg *config.AppConfig) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &payloadValidator{validate: validator.New()}
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		zap.L().Debug("webserver: request error", zap.String("path", c.Path()), zap.Error(err))
		_ = c.JSON(code, map[string]interface{}{
			"code":    code,
			"message": err.Error(),
		})
	}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(cfg.Web.Secret),
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/api/v1/auth/login"
		},
	}))

	pub := e.Group("")

	server = &WebServer{root: e, api: api, pub: pub, appConfig: cfg}
	return server
}

// Start blocks serving HTTP until the listener fails.
func (s *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.appConfig.Web.Host, s.appConfig.Web.Port)
	zap.L().Info("webserver: listening", zap.String("addr", addr))
	return s.root.Start(addr)
}

// Echo exposes the underlying echo instance (tests).
func (s *WebServer) Echo() *echo.Echo {
	return s.root
}

// ApiGET registers an authenticated GET route under /api/v1.
func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

// ApiPOST registers an authenticated POST route under /api/v1.
func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

// ApiPUT registers an authenticated PUT route under /api/v1.
func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

// ApiDELETE registers an authenticated DELETE route under /api/v1.
func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// PubGET registers an unauthenticated route (webhooks).
func PubGET(path string, h echo.HandlerFunc) {
	server.pub.GET(path, h)
}

// PubPOST registers an unauthenticated route (webhooks).
func PubPOST(path string, h echo.HandlerFunc) {
	server.pub.POST(path, h)
}
