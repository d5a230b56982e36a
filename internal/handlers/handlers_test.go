package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"textreviews/internal/adapters/twilio"
	"textreviews/internal/delivery"
	"textreviews/internal/models"
	"textreviews/internal/services"
	"textreviews/internal/store"
	"textreviews/internal/testutil"
)

const testBaseURL = "https://reviews.example.com"

// MockSender implements services.Sender for testing
type MockSender struct {
	SendSMSFunc func(ctx context.Context, to, body string) (string, error)
}

func (m *MockSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	if m.SendSMSFunc != nil {
		return m.SendSMSFunc(ctx, to, body)
	}
	return "SM-outbound", nil
}

// MockInbound implements InboundProcessor for testing
type MockInbound struct {
	HandleInboundFunc func(ctx context.Context, msg services.InboundMessage) (services.Outcome, error)
}

func (m *MockInbound) HandleInbound(ctx context.Context, msg services.InboundMessage) (services.Outcome, error) {
	return m.HandleInboundFunc(ctx, msg)
}

type nopChannel struct{}

func (nopChannel) Name() string                                   { return "nop" }
func (nopChannel) Deliver(context.Context, *delivery.Event) error { return nil }

type testEnv struct {
	conn      *sqlx.DB
	requests  *store.RequestStore
	reviews   *store.ReviewStore
	companies *store.CompanyStore
	verifier  *twilio.SignatureVerifier
	sender    *MockSender
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn := testutil.NewSQLiteDB(t)
	env := &testEnv{
		conn:      conn,
		requests:  store.NewRequestStore(conn, time.Second),
		reviews:   store.NewReviewStore(conn, time.Second),
		companies: store.NewCompanyStore(conn, time.Second),
		sender:    &MockSender{},
	}

	verifier, err := twilio.NewSignatureVerifier("test-auth-token")
	if err != nil {
		t.Fatal(err)
	}
	env.verifier = verifier

	manager := delivery.NewManager([]delivery.Channel{nopChannel{}}, delivery.Options{})
	matcher, _ := services.NewRequestMatcher(env.requests)
	inbound, err := services.NewInboundService(matcher, env.requests, env.reviews, services.WithEventSink(manager))
	if err != nil {
		t.Fatal(err)
	}
	dispatch, err := services.NewDispatchService(env.companies, env.sender, env.requests, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	textWebhook, err := NewTextWebhookHandler(inbound, verifier, testBaseURL)
	if err != nil {
		t.Fatal(err)
	}
	companies, err := NewCompanyHandler(dispatch, env.reviews)
	if err != nil {
		t.Fatal(err)
	}

	env.handler = Router{
		TextWebhook: textWebhook,
		Companies:   companies,
		Deliveries:  NewDeliveryHandler(manager),
		DB:          conn,
		Logger:      zerolog.Nop(),
	}.Handler()
	return env
}

func (e *testEnv) postSMS(t *testing.T, params url.Values, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/text-webhook", strings.NewReader(params.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature == "" {
		signature = e.verifier.Sign(testBaseURL+"/api/text-webhook", params)
	}
	req.Header.Set(twilio.SignatureHeader, signature)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func smsParams(from, body, sid string) url.Values {
	return url.Values{"From": {from}, "Body": {body}, "SmsSid": {sid}, "To": {"+18005550000"}}
}

func TestTextWebhookHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req, _ := env.requests.Create(ctx, 42, "+15551234567", "SM-out")

	rec := env.postSMS(t, smsParams("+15551234567", "5 stars, loved it", "SM-in"), "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if want := "<Response><Message>Thanks for your feedback!</Message></Response>"; rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}

	reviews, _ := env.reviews.ListByCompany(ctx, 42, 10)
	if len(reviews) != 1 {
		t.Fatalf("got %d reviews, want 1", len(reviews))
	}
	if *reviews[0].Rating != 5 || reviews[0].Body != "5 stars, loved it" {
		t.Errorf("review = %+v", reviews[0])
	}
	got, _ := env.requests.Get(ctx, req.ID)
	if !got.Responded || *got.ResponseMessageID != "SM-in" {
		t.Errorf("request = %+v", got)
	}
}

func TestTextWebhookEmptyBody(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.requests.Create(context.Background(), 42, "+15551234567", "SM-out")

	rec := env.postSMS(t, smsParams("+15551234567", "", "SM-in"), "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if want := "<Response><Message>Thanks!</Message></Response>"; rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
	if n := testutil.CountRows(t, env.conn, "reviews"); n != 0 {
		t.Errorf("reviews = %d, want 0", n)
	}
	open, _ := env.requests.FindOpen(context.Background(), "+15551234567", nil)
	if len(open) != 1 {
		t.Error("request should remain pending")
	}
}

func TestTextWebhookNoOpenRequest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postSMS(t, smsParams("+15559990000", "4 stars", "SM-in"), "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "no open review request" {
		t.Errorf("error = %q", body["error"])
	}
	if n := testutil.CountRows(t, env.conn, "reviews"); n != 0 {
		t.Errorf("reviews = %d, want 0", n)
	}
}

func TestTextWebhookMostRecentWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	times := []time.Time{t1, t1.Add(time.Hour)}
	env.requests.SetClock(func() time.Time {
		now := times[0]
		times = times[1:]
		return now
	})
	older, _ := env.requests.Create(ctx, 1, "+15551234567", "SM-1")
	newer, _ := env.requests.Create(ctx, 1, "+15551234567", "SM-2")

	if rec := env.postSMS(t, smsParams("+15551234567", "2 stars", "SM-in"), ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	gotOlder, _ := env.requests.Get(ctx, older.ID)
	gotNewer, _ := env.requests.Get(ctx, newer.ID)
	if gotOlder.Responded || !gotNewer.Responded {
		t.Errorf("older responded=%v newer responded=%v", gotOlder.Responded, gotNewer.Responded)
	}
}

func TestTextWebhookInvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.requests.Create(context.Background(), 42, "+15551234567", "SM-out")

	params := smsParams("+15551234567", "5 stars", "SM-in")
	good := env.verifier.Sign(testBaseURL+"/api/text-webhook", params)
	tampered := smsParams("+15551234567", "1 star", "SM-in")

	for name, rec := range map[string]*httptest.ResponseRecorder{
		"tampered": env.postSMS(t, tampered, good),
		"garbage":  env.postSMS(t, params, "bm90LWEtc2lnbmF0dXJl"),
	} {
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", name, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("%s: Content-Type = %q", name, ct)
		}
	}

	if n := testutil.CountRows(t, env.conn, "reviews"); n != 0 {
		t.Errorf("reviews = %d, want 0", n)
	}
	open, _ := env.requests.FindOpen(context.Background(), "+15551234567", nil)
	if len(open) != 1 {
		t.Error("request should remain pending")
	}
}

func TestTextWebhookMissingSignature(t *testing.T) {
	env := newTestEnv(t)
	params := smsParams("+15551234567", "5 stars", "SM-in")
	req := httptest.NewRequest(http.MethodPost, "/api/text-webhook", strings.NewReader(params.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTextWebhookMessageSidFallback(t *testing.T) {
	var got services.InboundMessage
	h, _ := NewTextWebhookHandler(&MockInbound{HandleInboundFunc: func(_ context.Context, msg services.InboundMessage) (services.Outcome, error) {
		got = msg
		return services.OutcomeRecorded, nil
	}}, twilio.NoopVerifier{}, "")

	form := url.Values{"From": {"+15551234567"}, "Body": {"ok"}, "MessageSid": {"MM-1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/text-webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || got.MessageID != "MM-1" {
		t.Errorf("status = %d, message = %+v", rec.Code, got)
	}
}

func TestTextWebhookJSONBody(t *testing.T) {
	var got services.InboundMessage
	h, _ := NewTextWebhookHandler(&MockInbound{HandleInboundFunc: func(_ context.Context, msg services.InboundMessage) (services.Outcome, error) {
		got = msg
		return services.OutcomeRecorded, nil
	}}, twilio.NoopVerifier{}, testBaseURL)

	req := httptest.NewRequest(http.MethodPost, "/api/text-webhook", bytes.NewBufferString(`{"From":"+15551234567","Body":"3 stars","SmsSid":"SM-9"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got.From != "+15551234567" || got.Body != "3 stars" || got.MessageID != "SM-9" {
		t.Errorf("message = %+v", got)
	}
}

func TestTextWebhookStorageError(t *testing.T) {
	h, _ := NewTextWebhookHandler(&MockInbound{HandleInboundFunc: func(context.Context, services.InboundMessage) (services.Outcome, error) {
		return 0, store.ErrStorageUnavailable
	}}, twilio.NoopVerifier{}, testBaseURL)

	req := httptest.NewRequest(http.MethodPost, "/api/text-webhook", strings.NewReader("From=%2B1&Body=5+stars"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"database error"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTextWebhookDuplicateAcknowledged(t *testing.T) {
	h, _ := NewTextWebhookHandler(&MockInbound{HandleInboundFunc: func(context.Context, services.InboundMessage) (services.Outcome, error) {
		return services.OutcomeDuplicate, nil
	}}, twilio.NoopVerifier{}, testBaseURL)

	req := httptest.NewRequest(http.MethodPost, "/api/text-webhook", strings.NewReader("From=%2B1&Body=5+stars"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Thanks for your feedback!") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestSendReview(t *testing.T) {
	env := newTestEnv(t)
	company, _ := env.companies.Create(context.Background(), "Joe's Diner")

	var sentTo, sentBody string
	env.sender.SendSMSFunc = func(_ context.Context, to, body string) (string, error) {
		sentTo, sentBody = to, body
		return "SM-abc", nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/companies/"+itoa(company.ID)+"/send-review", strings.NewReader(`{"customerPhone":"2085551234"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp sendReviewResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.SID != "SM-abc" {
		t.Errorf("sid = %q", resp.SID)
	}
	if sentTo != "+12085551234" || sentBody != "Thanks for visiting Joe's Diner. Reply with 1-5 stars and feedback." {
		t.Errorf("sent %q to %q", sentBody, sentTo)
	}

	open, _ := env.requests.FindOpen(context.Background(), "+12085551234", &company.ID)
	if len(open) != 1 || open[0].OutboundMessageID != "SM-abc" {
		t.Errorf("open requests = %+v", open)
	}
}

func TestSendReviewErrors(t *testing.T) {
	env := newTestEnv(t)
	company, _ := env.companies.Create(context.Background(), "Acme")

	tests := []struct {
		name    string
		path    string
		body    string
		sendErr error
		status  int
		errText string
	}{
		{"unknown company", "/api/companies/999/send-review", `{"customerPhone":"2085551234"}`, nil, http.StatusNotFound, "Company not found"},
		{"missing phone", "/api/companies/" + itoa(company.ID) + "/send-review", `{}`, nil, http.StatusBadRequest, "customerPhone is required"},
		{"bad json", "/api/companies/" + itoa(company.ID) + "/send-review", `{`, nil, http.StatusBadRequest, "invalid JSON body"},
		{"carrier failure", "/api/companies/" + itoa(company.ID) + "/send-review", `{"customerPhone":"2085551234"}`, errors.New("carrier down"), http.StatusInternalServerError, "Failed to send review request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.sender.SendSMSFunc = func(context.Context, string, string) (string, error) {
				if tt.sendErr != nil {
					return "", tt.sendErr
				}
				return "SM-x", nil
			}
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.errText) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.errText)
			}
		})
	}
	if n := testutil.CountRows(t, env.conn, "review_requests"); n != 0 {
		t.Errorf("review_requests = %d, want 0", n)
	}
}

func TestCompanyReviewsAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	companyID := int64(5)
	for _, r := range []int{5, 3} {
		rating := r
		if _, err := env.reviews.Insert(ctx, &companyID, "+15551234567", "ok", &rating); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/companies/5/reviews", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reviews status = %d", rec.Code)
	}
	var reviews []models.Review
	if err := json.Unmarshal(rec.Body.Bytes(), &reviews); err != nil || len(reviews) != 2 {
		t.Fatalf("reviews = %v, %v", reviews, err)
	}

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/companies/5/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats models.ReviewStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalReviews != 2 || stats.AverageRating != 4 || stats.RatingDistribution[3] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDeliveriesEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deliveries", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pending_events":0`) {
		t.Errorf("list: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deliveries/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("event: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/deliveries/retry", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("retry all: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/deliveries/retry/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("retry one: %d", rec.Code)
	}

	disabled := NewDeliveryHandler(nil)
	rec = httptest.NewRecorder()
	disabled.List(rec, httptest.NewRequest(http.MethodGet, "/api/deliveries", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled: %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Request-Id") == "" {
		t.Error("Request-Id header not set")
	}
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
