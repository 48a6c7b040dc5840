package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"tubefeed/models"
	"tubefeed/services"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

type SubscriptionHandlers struct {
	subscriptionService *services.SubscriptionService
	videoService        *services.VideoService
}

func NewSubscriptionHandlers(subscriptionService *services.SubscriptionService, videoService *services.VideoService) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subscriptionService: subscriptionService,
		videoService:        videoService,
	}
}

func (sh *SubscriptionHandlers) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	subs, err := sh.subscriptionService.GetAll(r.Context(), includeArchived)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if subs == nil {
		subs = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: subs})
}

func (sh *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid subscription ID", http.StatusBadRequest)
		return
	}

	sub, err := sh.subscriptionService.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, "Subscription not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: sub})
}

func (sh *SubscriptionHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req models.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.URL == "" && req.Username == "" && req.PlaylistID == "" {
		http.Error(w, "URL, username, or playlist ID is required", http.StatusBadRequest)
		return
	}

	result := sh.subscriptionService.Subscribe(r.Context(), req)
	if result.State == models.StateError {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Error: result.Error})
		return
	}

	status := http.StatusCreated
	if result.State == models.StateAlreadyAdded {
		status = http.StatusOK
	}
	writeJSON(w, status, APIResponse{Success: true, Data: result})
}

func (sh *SubscriptionHandlers) SubscribeBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []models.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(reqs) == 0 {
		http.Error(w, "At least one subscription is required", http.StatusBadRequest)
		return
	}

	results := sh.subscriptionService.AddSubscriptions(r.Context(), reqs)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: results})
}

type UpdateSubscriptionRequest struct {
	Placement     *models.Placement `json:"placement,omitempty"`
	PlaybackSpeed *float64          `json:"playback_speed,omitempty"`
}

func (sh *SubscriptionHandlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid subscription ID", http.StatusBadRequest)
		return
	}

	var req UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Placement != nil && !models.ValidPlacement(*req.Placement) {
		http.Error(w, "Invalid placement", http.StatusBadRequest)
		return
	}

	sub, err := sh.subscriptionService.UpdateSettings(r.Context(), id, req.Placement, req.PlaybackSpeed)
	if err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: sub})
}

func (sh *SubscriptionHandlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid subscription ID", http.StatusBadRequest)
		return
	}

	if err := sh.subscriptionService.Unsubscribe(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to unsubscribe", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Unsubscribed successfully"}})
}

// UnsubscribeByIdentity archives the subscription matching the given
// channel or playlist id.
func (sh *SubscriptionHandlers) UnsubscribeByIdentity(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	playlistID := r.URL.Query().Get("playlist_id")
	if channelID == "" && playlistID == "" {
		http.Error(w, "channel_id or playlist_id is required", http.StatusBadRequest)
		return
	}

	if err := sh.subscriptionService.UnsubscribeByIdentity(r.Context(), channelID, playlistID); err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to unsubscribe", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Unsubscribed successfully"}})
}

// RefreshSubscription polls one subscription's feed in the background.
func (sh *SubscriptionHandlers) RefreshSubscription(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid subscription ID", http.StatusBadRequest)
		return
	}

	if _, err := sh.subscriptionService.GetByID(r.Context(), id); err != nil {
		http.Error(w, "Subscription not found", http.StatusNotFound)
		return
	}

	go func() {
		if _, err := sh.videoService.LoadVideos(context.Background(), []int{id}, models.PlacementDefault); err != nil {
			log.Warnf("Refresh of subscription %d failed: %v", id, err)
		}
	}()

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Refresh started"}})
}

// RefreshAll polls every active subscription in the background.
func (sh *SubscriptionHandlers) RefreshAll(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := sh.videoService.LoadVideos(context.Background(), nil, models.PlacementDefault); err != nil {
			log.Warnf("Refresh of all subscriptions failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Refresh started"}})
}
