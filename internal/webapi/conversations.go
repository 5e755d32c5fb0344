package webapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/router"
	"github.com/bitcodr/waplane/internal/webserver"
)

func registerConversationRoutes() {
	webserver.ApiGET("/conversations", listConversations)
	webserver.ApiGET("/conversations/:phone/messages", listConversationMessages)
	webserver.ApiPOST("/conversations/:phone/department", postAssignDepartment)
	webserver.ApiGET("/conversations/:phone/state", getConversationState)
	webserver.ApiPOST("/conversations/:phone/claim", postClaimConversation)
	webserver.ApiPOST("/conversations/:phone/release", postReleaseConversation)
	webserver.ApiGET("/conversations/:phone/events", listOwnershipEvents)
}

// listConversations retrieves the conversation list
func listConversations(c echo.Context) error {
	db := GetDB(c)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("perPage"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int64
	var convs []domain.Conversation
	query := db.Model(&domain.Conversation{})

	if dept := strings.TrimSpace(c.QueryParam("department")); dept != "" {
		if dept == "untriaged" {
			query = query.Where("department_code = ''")
		} else {
			query = query.Where("department_code = ?", dept)
		}
	}
	if phone := strings.TrimSpace(c.QueryParam("phone")); phone != "" {
		query = query.Where("phone LIKE ?", "%"+phone+"%")
	}

	query.Count(&total)
	offset := (page - 1) * perPage
	query.Order("last_message_at DESC").Limit(perPage).Offset(offset).Find(&convs)

	return ok(c, ListResponse{TotalCount: total, Pos: offset, Data: convs})
}

// listConversationMessages returns recent ledger entries for a phone number
func listConversationMessages(c echo.Context) error {
	phone, err := router.NormalizePhone(c.Param("phone"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number", err.Error())
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	msgs, err := deps.Ledger.ListByPhone(c.Request().Context(), phone, limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list messages", err.Error())
	}
	return ok(c, map[string]interface{}{"messages": msgs})
}

// postAssignDepartment performs triage: binds a conversation to a business
// department. The router and resolver consume this; they never produce it.
func postAssignDepartment(c echo.Context) error {
	phone, err := router.NormalizePhone(c.Param("phone"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number", err.Error())
	}
	var payload struct {
		DepartmentCode string `json:"department_code"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.DepartmentCode == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "department_code is required", nil)
	}

	dept, err := deps.Departments.ByCode(c.Request().Context(), payload.DepartmentCode)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "LOOKUP_FAILED", "Failed to look up department", err.Error())
	}
	if dept == nil {
		return fail(c, http.StatusBadRequest, "UNKNOWN_DEPARTMENT", "No such department: "+payload.DepartmentCode, nil)
	}

	res := GetDB(c).Model(&domain.Conversation{}).Where("phone = ?", phone).
		Update("department_code", dept.Code)
	if res.Error != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to assign department", res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
	}
	deps.Departments.Invalidate(dept.Code)
	zap.L().Info("webapi: conversation triaged",
		zap.String("phone", phone), zap.String("department", dept.Code))
	return ok(c, map[string]interface{}{"phone": phone, "department_code": dept.Code})
}

// getConversationState returns who owns the conversation now. Missing rows
// come back as the default AI-owned state.
func getConversationState(c echo.Context) error {
	phone, err := router.NormalizePhone(c.Param("phone"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number", err.Error())
	}
	state, err := deps.States.GetState(c.Request().Context(), phone)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "STATE_FAILED", "Failed to read state", err.Error())
	}
	return ok(c, state)
}

// postClaimConversation hands the conversation to the calling operator.
func postClaimConversation(c echo.Context) error {
	phone, err := router.NormalizePhone(c.Param("phone"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number", err.Error())
	}
	var payload struct {
		OperatorID int64 `json:"operator_id,string"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.OperatorID == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "operator_id is required", nil)
	}
	if err := deps.States.ClaimByOperator(c.Request().Context(), phone, payload.OperatorID); err != nil {
		return fail(c, http.StatusInternalServerError, "CLAIM_FAILED", "Failed to claim conversation", err.Error())
	}
	return ok(c, map[string]interface{}{"phone": phone, "operator_id": payload.OperatorID})
}

// postReleaseConversation is the explicit operator hand-back.
func postReleaseConversation(c echo.Context) error {
	phone, err := router.NormalizePhone(c.Param("phone"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number", err.Error())
	}
	if err := deps.States.ReleaseToAi(c.Request().Context(), phone); err != nil {
		return fail(c, http.StatusInternalServerError, "RELEASE_FAILED", "Failed to release conversation", err.Error())
	}
	return ok(c, map[string]interface{}{"phone": phone, "released": true})
}

// listOwnershipEvents returns the audit trail of ownership transitions.
func listOwnershipEvents(c echo.Context) error {
	phone, err := router.NormalizePhone(c.Param("phone"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number", err.Error())
	}
	var events []domain.OwnershipEvent
	if err := GetDB(c).Where("phone = ?", phone).Order("at DESC").Limit(200).Find(&events).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list events", err.Error())
	}
	return ok(c, map[string]interface{}{"events": events})
}
