package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/indofood-api/internal/catalogue"
	"github.com/Brownie44l1/indofood-api/internal/profile"
	"github.com/Brownie44l1/indofood-api/internal/tracking"
)

type Handler struct {
	foods    *catalogue.Store
	profile  *profile.Store
	sessions *tracking.Registry
	logger   zerolog.Logger
}

// NewHandler takes the stores built once at the application root.
func NewHandler(foods *catalogue.Store, profiles *profile.Store, sessions *tracking.Registry) *Handler {
	return &Handler{
		foods:    foods,
		profile:  profiles,
		sessions: sessions,
		logger:   log.With().Str("component", "http").Logger(),
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Foods    int    `json:"foods"`
	Tracking bool   `json:"tracking"`
	Sessions int    `json:"sessions"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Foods:    len(h.foods.All()),
		Tracking: h.sessions.Available(),
		Sessions: h.sessions.Len(),
	}
	if err := h.foods.Err(); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type foodsResponse struct {
	Items []catalogue.FoodItem `json:"items"`
	Count int                  `json:"count"`
}

func newFoodsResponse(items []catalogue.FoodItem) foodsResponse {
	if items == nil {
		items = []catalogue.FoodItem{}
	}
	return foodsResponse{Items: items, Count: len(items)}
}

// ListFoods returns the catalogue, filtered by ?q= when present.
func (h *Handler) ListFoods(w http.ResponseWriter, r *http.Request) {
	items := h.foods.Search(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, newFoodsResponse(items))
}

func (h *Handler) TopFoods(w http.ResponseWriter, r *http.Request) {
	n := catalogue.DefaultRecommendedCount
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			http.Error(w, "n must be a non-negative integer", http.StatusBadRequest)
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, newFoodsResponse(h.foods.TopRated(n)))
}

func (h *Handler) GetFood(w http.ResponseWriter, r *http.Request) {
	item, err := h.foods.GetByID(mux.Vars(r)["id"])
	if errors.Is(err, catalogue.ErrNotFound) {
		http.Error(w, "Food not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load food", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.profile.Get())
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profile.Profile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	p, err := h.profile.Update(req.Name, req.Email)
	if errors.Is(err, profile.ErrInvalid) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Str("component", "http").Err(err).Msg("Failed to write response")
	}
}
