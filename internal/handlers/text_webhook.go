package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/hlog"

	"textreviews/internal/adapters/twilio"
	"textreviews/internal/services"
)

const maxWebhookBody = 64 << 10

const (
	ackEmpty    = "Thanks!"
	ackRecorded = "Thanks for your feedback!"
)

// InboundProcessor handles a parsed inbound SMS.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, msg services.InboundMessage) (services.Outcome, error)
}

// TextWebhookHandler receives inbound SMS from Twilio and replies with TwiML.
type TextWebhookHandler struct {
	inbound  InboundProcessor
	verifier twilio.Verifier
	baseURL  string
}

// NewTextWebhookHandler creates the inbound SMS handler. baseURL is the public
// origin Twilio calls (API_BASE_URL) and is needed to check signatures behind proxies.
func NewTextWebhookHandler(inbound InboundProcessor, verifier twilio.Verifier, baseURL string) (*TextWebhookHandler, error) {
	if inbound == nil {
		return nil, fmt.Errorf("inbound service cannot be nil")
	}
	if verifier == nil {
		return nil, fmt.Errorf("signature verifier cannot be nil")
	}
	return &TextWebhookHandler{
		inbound:  inbound,
		verifier: verifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *TextWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read request body")
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	params, err := parseParams(r.Header.Get("Content-Type"), body)
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed webhook payload")
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	fullURL := h.fullURL(r)
	if err := h.verifier.Verify(r.Header.Get(twilio.SignatureHeader), fullURL, params, body); err != nil {
		logger.Warn().Err(err).Str("url", fullURL).Str("ip", r.RemoteAddr).Msg("Invalid Twilio signature received")
		http.Error(w, "Forbidden: invalid signature", http.StatusForbidden)
		return
	}

	msg := services.InboundMessage{
		From:      params.Get("From"),
		Body:      params.Get("Body"),
		MessageID: params.Get("SmsSid"),
	}
	if msg.MessageID == "" {
		msg.MessageID = params.Get("MessageSid")
	}
	logger.Info().Str("from", msg.From).Str("smsSid", msg.MessageID).Msg("Received Twilio text webhook")

	outcome, err := h.inbound.HandleInbound(r.Context(), msg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	switch outcome {
	case services.OutcomeEmpty:
		respondTwiML(w, ackEmpty)
	case services.OutcomeNoOpenRequest:
		respondError(w, http.StatusBadRequest, "no open review request")
	default:
		respondTwiML(w, ackRecorded)
	}
}

func (h *TextWebhookHandler) fullURL(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// parseParams decodes a form or JSON webhook body into string parameters.
func parseParams(contentType string, body []byte) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/json" {
		return url.ParseQuery(string(body))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	params := url.Values{}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			params.Set(k, val)
		default:
			b, _ := json.Marshal(val)
			params.Set(k, string(b))
		}
	}
	return params, nil
}
