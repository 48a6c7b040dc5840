package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tubefeed/services"
)

type OPMLHandlers struct {
	opmlService *services.OPMLService
}

func NewOPMLHandlers(opmlService *services.OPMLService) *OPMLHandlers {
	return &OPMLHandlers{opmlService: opmlService}
}

// ImportOPML handles OPML file upload.
func (oh *OPMLHandlers) ImportOPML(w http.ResponseWriter, r *http.Request) {
	// Limit upload size to 10MB.
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, _, err := r.FormFile("opml_file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "No file uploaded or invalid file",
		})
		return
	}
	defer file.Close()

	opmlData, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{
			Success: false,
			Error:   "Failed to read file",
		})
		return
	}

	result, err := oh.opmlService.ImportOPML(r.Context(), opmlData)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to import OPML: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

// ExportOPML streams the subscription list as a downloadable file.
func (oh *OPMLHandlers) ExportOPML(w http.ResponseWriter, r *http.Request) {
	opmlData, err := oh.opmlService.ExportOPML(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to export OPML: %v", err),
		})
		return
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := fmt.Sprintf("tubefeed_export_%s.opml", timestamp)

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(opmlData)))
	w.Write(opmlData)
}
