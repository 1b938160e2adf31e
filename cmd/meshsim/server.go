package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni"
)

// newHandler serves /metrics, /events (websocket) and /status.
func newHandler(gatherer prometheus.Gatherer, hub *Hub, statusFn func() []status) http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.Handle("/events", hub).Methods("GET")
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusFn())
	}).Methods("GET")

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(router)
	return n
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:        addr,
		IdleTimeout: 120 * time.Second,
		Handler:     handler,
	}
}
