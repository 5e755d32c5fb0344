package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bitcodr/waplane/internal/router"
	"github.com/bitcodr/waplane/internal/webserver"
)

func registerMessageRoutes() {
	webserver.ApiPOST("/messages/send", postSendMessage)
}

// postSendMessage delivers one outbound message through the channel the
// conversation's department prescribes. Failures come back in the result
// body, not as HTTP errors, so callers can distinguish delivery failure
// from transport failure.
func postSendMessage(c echo.Context) error {
	var req router.SendRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if req.To == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to is required", nil)
	}
	if req.Origin == "" {
		req.Origin = router.OriginOperator
	}

	result := deps.Router.Send(c.Request().Context(), req)
	if !result.Success {
		return c.JSON(http.StatusOK, RestResult{Code: 1, Msgtype: "SEND_FAILED", Message: result.Error, Data: result})
	}
	return ok(c, result)
}
