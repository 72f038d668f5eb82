package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"coralcam/internal/dto"
	"coralcam/internal/logger"
	"coralcam/internal/repository"
)

// ListDetectionsHandler lists journaled frames, newest first, with filtering and pagination.
// Response is JSON of type dto.DetectionsData.
func ListDetectionsHandler(repo repository.FrameRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := &dto.DetectionFilter{
			Label:    q.Get("label"),
			MinScore: parseScore(q.Get("minScore")),
			After:    parseTime(q.Get("after")),
			Before:   parseTime(q.Get("before")),
			Page:     atoiDefault(q.Get("page"), 1),
			Limit:    atoiDefault(q.Get("limit"), 24),
		}

		frames, err := repo.List(r.Context(), filter)
		if err != nil {
			logger.Error("Error querying detections: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		total, err := repo.Count(r.Context(), filter)
		if err != nil {
			logger.Error("Error counting detections: %v", err)
			total = len(frames)
		}

		writeJSON(w, logger, dto.DetectionsData{
			Frames:      frames,
			Length:      total,
			TotalPages:  (total + filter.Limit - 1) / filter.Limit,
			CurrentPage: filter.Page,
			Limit:       filter.Limit,
		})
	}
}

// LabelCountsHandler returns how often each label was journaled, optionally since a point in time.
func LabelCountsHandler(repo repository.FrameRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := repo.LabelCounts(r.Context(), parseTime(r.URL.Query().Get("since")))
		if err != nil {
			logger.Error("Failed to get label counts: %v", err)
			http.Error(w, "Failed to retrieve label counts", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, counts)
	}
}

// PruneDetectionsHandler deletes journaled frames captured before the required "before" parameter.
func PruneDetectionsHandler(repo repository.FrameRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		before := parseTime(r.URL.Query().Get("before"))
		if before.IsZero() {
			http.Error(w, "before parameter is required", http.StatusBadRequest)
			return
		}

		deleted, err := repo.DeleteBefore(r.Context(), before)
		if err != nil {
			logger.Error("Failed to prune detections: %v", err)
			http.Error(w, "Failed to prune detections", http.StatusInternalServerError)
			return
		}
		logger.Info("Pruned %d journaled frames captured before %s", deleted, before.Format(time.RFC3339))
		writeJSON(w, logger, map[string]int64{"deleted": deleted})
	}
}

// helpers

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseScore parses a score in [0,1]; anything else means no minimum.
func parseScore(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return 0
	}
	return f
}

// parseTime accepts RFC 3339 timestamps and plain dates in the format "2006-01-02" (HTML input format).
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t
	}
	return time.Time{}
}
