package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Router bundles every handler the server exposes.
type Router struct {
	TextWebhook *TextWebhookHandler
	Companies   *CompanyHandler
	Deliveries  *DeliveryHandler
	DB          Pinger
	Logger      zerolog.Logger
}

// Handler builds the gorilla/mux router wrapped in the middleware chain.
func (rt Router) Handler() http.Handler {
	r := mux.NewRouter()
	c := Chain(rt.Logger)

	r.Handle("/health", c.ThenFunc(Health(rt.DB))).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/text-webhook", c.Then(rt.TextWebhook)).Methods(http.MethodPost)

	api.Handle("/companies/{id:[0-9]+}/send-review", c.ThenFunc(rt.Companies.SendReview)).Methods(http.MethodPost)
	api.Handle("/companies/{id:[0-9]+}/reviews", c.ThenFunc(rt.Companies.Reviews)).Methods(http.MethodGet)
	api.Handle("/companies/{id:[0-9]+}/stats", c.ThenFunc(rt.Companies.Stats)).Methods(http.MethodGet)

	api.Handle("/deliveries", c.ThenFunc(rt.Deliveries.List)).Methods(http.MethodGet)
	api.Handle("/deliveries/retry", c.ThenFunc(rt.Deliveries.Retry)).Methods(http.MethodPost)
	api.Handle("/deliveries/retry/{eventId}", c.ThenFunc(rt.Deliveries.Retry)).Methods(http.MethodPost)
	api.Handle("/deliveries/{eventId}", c.ThenFunc(rt.Deliveries.Event)).Methods(http.MethodGet)

	return r
}
