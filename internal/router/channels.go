package router

import (
	"context"
	"fmt"
	"time"

	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bitcodr/waplane/config"
)

// OutboundMessage is what a delivery channel needs to put one message on the
// wire.
type OutboundMessage struct {
	To             string
	Text           string
	MediaURL       string
	MediaType      string
	ConversationID int64
	AttendantName  string
	DepartmentCode string
}

// ChannelClient delivers one outbound message. Send returns the provider
// message id when the channel confirms synchronously; relay-style channels
// confirm asynchronously and return an empty id.
type ChannelClient interface {
	Send(ctx context.Context, msg OutboundMessage) (providerID string, err error)
}

// RelayClient posts outbound messages to the business-automation relay,
// which forwards them to WhatsApp on our behalf. Delivery confirmation
// arrives later on the relay callback endpoint.
type RelayClient struct {
	url     string
	token   string
	timeout time.Duration
}

func NewRelayClient(cfg config.RelayConfig) *RelayClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RelayClient{url: cfg.URL, token: cfg.Token, timeout: timeout}
}

func (c *RelayClient) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	if c.url == "" {
		return "", errors.New("relay channel not configured (missing url)")
	}
	payload := gout.H{
		"to":              msg.To,
		"conversation_id": fmt.Sprintf("%d", msg.ConversationID),
		"attendant_name":  msg.AttendantName,
		"department":      msg.DepartmentCode,
	}
	if msg.MediaURL != "" {
		payload["media_url"] = msg.MediaURL
		payload["media_type"] = msg.MediaType
	} else {
		payload["text"] = msg.Text
	}

	var code int
	req := gout.POST(c.url).
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetJSON(payload).
		Code(&code)
	if c.token != "" {
		req = req.SetHeader(gout.H{"Authorization": "Bearer " + c.token})
	}
	if err := req.Do(); err != nil {
		return "", errors.Wrap(err, "relay send")
	}
	if code >= 300 {
		return "", errors.Errorf("relay send rejected: http %d", code)
	}
	zap.L().Debug("router: relay accepted message", zap.String("to", msg.To))
	// Confirmation is asynchronous; the ledger write is authoritative.
	return "", nil
}

// CloudClient sends outbound messages straight to the WhatsApp Cloud API.
// The provider message id comes back synchronously.
type CloudClient struct {
	apiURL        string
	phoneNumberID string
	accessToken   string
	timeout       time.Duration
}

func NewCloudClient(cfg config.CloudConfig) *CloudClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CloudClient{
		apiURL:        cfg.ApiURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		timeout:       timeout,
	}
}

type cloudSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *CloudClient) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	if c.phoneNumberID == "" || c.accessToken == "" {
		return "", errors.New("cloud channel not configured (missing credentials)")
	}
	payload := gout.H{
		"messaging_product": "whatsapp",
		"to":                msg.To,
	}
	if msg.MediaURL != "" {
		mediaType := msg.MediaType
		if mediaType == "" {
			mediaType = "image"
		}
		payload["type"] = mediaType
		payload[mediaType] = gout.H{"link": msg.MediaURL}
	} else {
		payload["type"] = "text"
		payload["text"] = gout.H{"body": msg.Text}
	}

	var resp cloudSendResponse
	var code int
	err := gout.POST(fmt.Sprintf("%s/%s/messages", c.apiURL, c.phoneNumberID)).
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(gout.H{"Authorization": "Bearer " + c.accessToken}).
		SetJSON(payload).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return "", errors.Wrap(err, "cloud send")
	}
	if code >= 300 {
		if resp.Error != nil {
			return "", errors.Errorf("cloud send rejected: http %d: %s", code, resp.Error.Message)
		}
		return "", errors.Errorf("cloud send rejected: http %d", code)
	}
	if len(resp.Messages) == 0 {
		return "", errors.New("cloud send: response carried no message id")
	}
	return resp.Messages[0].ID, nil
}
