package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter registers every endpoint and wraps them with CORS and request
// logging.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/foods", h.ListFoods).Methods(http.MethodGet)
	r.HandleFunc("/foods/top", h.TopFoods).Methods(http.MethodGet)
	r.HandleFunc("/foods/{id}", h.GetFood).Methods(http.MethodGet)

	r.HandleFunc("/profile", h.GetProfile).Methods(http.MethodGet)
	r.HandleFunc("/profile", h.UpdateProfile).Methods(http.MethodPut)

	s := r.PathPrefix("/tracking/sessions").Subrouter()
	s.HandleFunc("", h.CreateSession).Methods(http.MethodPost)
	s.HandleFunc("/{id}", h.DeleteSession).Methods(http.MethodDelete)
	s.HandleFunc("/{id}/frames", h.SubmitFrame).Methods(http.MethodPost)
	s.HandleFunc("/{id}/result", h.Result).Methods(http.MethodGet)
	s.HandleFunc("/{id}/ws", h.Stream).Methods(http.MethodGet)
	s.HandleFunc("/{id}/image", h.ClassifyImage).Methods(http.MethodPost)

	return enableCORS(h.logRequests(r))
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	})
}
