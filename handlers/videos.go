package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tubefeed/models"
	"tubefeed/services"
)

type VideoHandlers struct {
	videoService *services.VideoService
	queueService *services.QueueService
}

func NewVideoHandlers(videoService *services.VideoService, queueService *services.QueueService) *VideoHandlers {
	return &VideoHandlers{
		videoService: videoService,
		queueService: queueService,
	}
}

func (vh *VideoHandlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	video, err := vh.videoService.GetVideoByID(r.Context(), id)
	if err != nil {
		http.Error(w, "Video not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: video})
}

type AddVideosRequest struct {
	URLs []string `json:"urls"`
}

// AddVideos ingests videos by URL, outside of any feed poll.
func (vh *VideoHandlers) AddVideos(w http.ResponseWriter, r *http.Request) {
	var req AddVideosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		http.Error(w, "At least one URL is required", http.StatusBadRequest)
		return
	}

	videos, err := vh.videoService.LoadVideoData(r.Context(), req.URLs, models.PlacementDefault)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: videos})
}

type PlaceVideoRequest struct {
	Placement models.Placement `json:"placement"`
}

func (vh *VideoHandlers) PlaceVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	var req PlaceVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !models.ValidPlacement(req.Placement) {
		http.Error(w, "Invalid placement", http.StatusBadRequest)
		return
	}

	if err := vh.videoService.PlaceVideo(r.Context(), id, req.Placement); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Video placed"}})
}

type WatchedRequest struct {
	Watched bool `json:"watched"`
}

func (vh *VideoHandlers) MarkWatched(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	req := WatchedRequest{Watched: true}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	if err := vh.videoService.MarkWatched(r.Context(), id, req.Watched); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Watched state updated"}})
}

type ChapterActiveRequest struct {
	Active bool `json:"active"`
}

func (vh *VideoHandlers) SetChapterActive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chapterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid chapter ID", http.StatusBadRequest)
		return
	}

	var req ChapterActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := vh.videoService.SetChapterActive(r.Context(), chapterID, req.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Chapter not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Chapter updated"}})
}

func (vh *VideoHandlers) GetInbox(w http.ResponseWriter, r *http.Request) {
	entries, err := vh.videoService.ListInbox(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []models.InboxEntry{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: entries})
}

func (vh *VideoHandlers) ClearInbox(w http.ResponseWriter, r *http.Request) {
	if err := vh.videoService.ClearInbox(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Inbox cleared"}})
}

func (vh *VideoHandlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := vh.queueService.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: entries})
}

type QueueInsertRequest struct {
	Index    int   `json:"index"`
	VideoIDs []int `json:"video_ids"`
}

func (vh *VideoHandlers) QueueInsert(w http.ResponseWriter, r *http.Request) {
	var req QueueInsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.VideoIDs) == 0 {
		http.Error(w, "At least one video ID is required", http.StatusBadRequest)
		return
	}

	if err := vh.queueService.InsertAt(r.Context(), req.Index, req.VideoIDs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Videos queued"}})
}

type QueueMoveRequest struct {
	FromOffsets []int `json:"from_offsets"`
	ToOffset    int   `json:"to_offset"`
}

func (vh *VideoHandlers) QueueMove(w http.ResponseWriter, r *http.Request) {
	var req QueueMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.FromOffsets) == 0 {
		http.Error(w, "At least one offset is required", http.StatusBadRequest)
		return
	}

	if err := vh.queueService.Move(r.Context(), req.FromOffsets, req.ToOffset); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Queue reordered"}})
}

func (vh *VideoHandlers) QueueRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	videoID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	if err := vh.queueService.Remove(r.Context(), videoID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"message": "Video removed from queue"}})
}

func (vh *VideoHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := vh.videoService.ListHistory(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []models.WatchEntry{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: entries})
}

func (vh *VideoHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := vh.videoService.GetStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: stats})
}
