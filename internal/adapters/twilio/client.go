// Package twilio talks to the Twilio SMS gateway: outbound messages over the
// REST API and authentication of inbound webhooks.
package twilio

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Client sends SMS through the Twilio Messages API.
type Client struct {
	httpClient        *resty.Client
	accountSID        string
	from              string
	statusCallbackURL string
}

// Message is the part of Twilio's message resource the service uses.
type Message struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// NewClient creates a Twilio client. baseURL is normally https://api.twilio.com.
func NewClient(baseURL, accountSID, authToken, from, statusCallbackURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Twilio baseURL cannot be empty")
	}
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("Twilio account SID and auth token are required")
	}
	if from == "" {
		return nil, fmt.Errorf("Twilio sender phone cannot be empty")
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(accountSID, authToken).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)

	log.Info().Str("baseURL", baseURL).Str("from", from).Msg("Twilio client configured")

	return &Client{
		httpClient:        client,
		accountSID:        accountSID,
		from:              from,
		statusCallbackURL: statusCallbackURL,
	}, nil
}

// SendSMS sends body to the E.164 number to and returns the message SID.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", c.accountSID)

	form := map[string]string{
		"From": c.from,
		"To":   to,
		"Body": body,
	}
	if c.statusCallbackURL != "" {
		form["StatusCallback"] = c.statusCallbackURL
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&Message{}).
		SetError(&apiError{}).
		Post(path)
	if err != nil {
		log.Error().Err(err).Str("to", to).Msg("Twilio API: send message request failed")
		return "", fmt.Errorf("Twilio send message request failed: %w", err)
	}

	if resp.IsError() {
		detail := resp.String()
		if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
			detail = e.Message
		}
		log.Error().Str("to", to).Int("statusCode", resp.StatusCode()).Str("responseBody", resp.String()).Msg("Twilio API: send message returned an error")
		return "", fmt.Errorf("Twilio send message error: status %s: %s", resp.Status(), detail)
	}

	msg := resp.Result().(*Message)
	log.Info().Str("sid", msg.SID).Str("to", to).Str("status", msg.Status).Msg("Review request SMS sent")
	return msg.SID, nil
}
