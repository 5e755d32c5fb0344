package webapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/router"
	"github.com/bitcodr/waplane/internal/webserver"
	"github.com/bitcodr/waplane/pkg/ids"
)

func registerWebhookRoutes() {
	webserver.PubGET("/webhook/whatsapp", getWhatsAppVerify)
	webserver.PubPOST("/webhook/whatsapp", postWhatsAppEvents)
	webserver.PubPOST("/webhook/relay", postRelayCallback)
}

// getWhatsAppVerify answers the Cloud API webhook handshake
// (hub.mode/hub.verify_token/hub.challenge).
func getWhatsAppVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode == "subscribe" && token != "" && token == deps.App.Config().Cloud.VerifyToken {
		return c.String(http.StatusOK, challenge)
	}
	return c.NoContent(http.StatusForbidden)
}

// whatsAppEventPayload mirrors the subset of the Cloud API webhook shape the
// control plane consumes.
type whatsAppEventPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Image struct {
						Link string `json:"link"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// postWhatsAppEvents ingests inbound message events. Delivery is
// at-least-once; the ledger's conditional insert absorbs duplicates, so the
// handler always answers 200 once parsing succeeds.
func postWhatsAppEvents(c echo.Context) error {
	var payload whatsAppEventPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse webhook payload", err.Error())
	}

	ctx := c.Request().Context()
	var results []map[string]interface{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			// Meta formats the display number; keep the raw value only when
			// it does not normalize.
			businessPhone := value.Metadata.DisplayPhoneNumber
			if normalized, err := router.NormalizePhone(businessPhone); err == nil {
				businessPhone = normalized
			}
			names := make(map[string]string, len(value.Contacts))
			for _, contact := range value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, event := range value.Messages {
				phone, err := router.NormalizePhone(event.From)
				if err != nil {
					zap.L().Warn("webhook: skipping message with bad phone",
						zap.String("from", event.From), zap.Error(err))
					continue
				}

				ts := time.Now()
				if secs, err := strconv.ParseInt(event.Timestamp, 10, 64); err == nil && secs > 0 {
					ts = time.Unix(secs, 0)
				}
				waID := event.ID
				msg := &domain.Message{
					Direction: domain.DirectionInbound,
					FromPhone: phone,
					ToPhone:   businessPhone,
					Body:      event.Text.Body,
					MediaURL:  event.Image.Link,
					Status:    domain.MsgStatusReceived,
					Timestamp: ts,
				}
				if waID != "" {
					msg.WaMessageID = &waID
				}
				if event.Type != "text" {
					msg.MediaType = event.Type
				}
				rec, err := deps.Ledger.Record(ctx, msg)
				if err != nil {
					zap.L().Error("webhook: ledger write failed",
						zap.String("wa_message_id", waID), zap.Error(err))
					continue
				}

				touchConversation(c, phone, names[event.From], ts)

				// Seed ownership state and expose the routing decision for
				// the AI/operator surfaces downstream.
				state, err := deps.States.GetState(ctx, phone)
				if err != nil {
					zap.L().Warn("webhook: state read failed", zap.String("phone", phone), zap.Error(err))
					continue
				}
				dept, err := deps.Departments.Resolve(ctx, phone)
				if err != nil {
					zap.L().Warn("webhook: department resolve failed", zap.String("phone", phone), zap.Error(err))
				}
				deptCode := ""
				aiEnabled := false
				if dept != nil {
					deptCode = dept.Code
					aiEnabled = dept.AiEnabled
				}
				results = append(results, map[string]interface{}{
					"message_id": rec.ID,
					"phone":      phone,
					"ai_active":  state.IsAiActive,
					"ai_enabled": aiEnabled,
					"department": deptCode,
				})
			}
		}
	}
	return ok(c, map[string]interface{}{"processed": len(results), "messages": results})
}

// relayCallbackPayload is the relay's asynchronous delivery confirmation.
// It performs the same dedup-by-provider-id write as the webhook path.
type relayCallbackPayload struct {
	WaMessageID    string `json:"wa_message_id"`
	To             string `json:"to"`
	From           string `json:"from"`
	Body           string `json:"body"`
	MediaURL       string `json:"media_url"`
	AttendantName  string `json:"attendant_name"`
	DepartmentCode string `json:"department"`
}

func postRelayCallback(c echo.Context) error {
	var payload relayCallbackPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse callback", err.Error())
	}
	if payload.To == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to is required", nil)
	}
	phone, err := router.NormalizePhone(payload.To)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Invalid destination phone", err.Error())
	}

	msg := &domain.Message{
		Direction:      domain.DirectionOutbound,
		FromPhone:      payload.From,
		ToPhone:        phone,
		Body:           payload.Body,
		MediaURL:       payload.MediaURL,
		AttendantName:  payload.AttendantName,
		DepartmentCode: payload.DepartmentCode,
		Channel:        domain.ChannelRelay,
		Status:         domain.MsgStatusSent,
	}
	if payload.WaMessageID != "" {
		msg.WaMessageID = &payload.WaMessageID
	}
	rec, err := deps.Ledger.Record(c.Request().Context(), msg)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "RECORD_FAILED", "Failed to record message", err.Error())
	}
	return ok(c, map[string]interface{}{"message_id": rec.ID})
}

// touchConversation upserts the conversation row for an inbound message.
func touchConversation(c echo.Context, phone, contactName string, at time.Time) {
	assignments := map[string]interface{}{
		"last_message_at": at,
		"updated_at":      time.Now(),
	}
	if contactName != "" {
		assignments["contact_name"] = contactName
	}
	conv := &domain.Conversation{
		ID:            ids.Next(),
		Phone:         phone,
		ContactName:   contactName,
		LastMessageAt: &at,
	}
	err := GetDB(c).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(conv).Error
	if err != nil {
		zap.L().Warn("webhook: conversation upsert failed", zap.String("phone", phone), zap.Error(err))
	}
}
