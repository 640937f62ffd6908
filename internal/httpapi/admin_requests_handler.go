package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"auditgate/internal/queue"
	"auditgate/internal/recorder"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// AdminRequestsHandler exposes the audit log, usage statistics and the
// recorder's dead letter queue.
type AdminRequestsHandler struct {
	db       *storage.DB
	recorder *recorder.Recorder
	logger   *utils.Logger
}

func NewAdminRequestsHandler(db *storage.DB, rec *recorder.Recorder) *AdminRequestsHandler {
	return &AdminRequestsHandler{
		db:       db,
		recorder: rec,
		logger:   utils.NewLogger("admin-requests"),
	}
}

// List handles GET /admin/chat-records.
func (h *AdminRequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r, 50, 500)
	filters := storage.RequestListFilters{
		ErrorType: r.URL.Query().Get("error_type"),
		Page:      page.Number,
		PageSize:  page.Size,
	}

	q := r.URL.Query()
	for param, target := range map[string]**uuid.UUID{
		"quota_id": &filters.QuotaID,
		"user_id":  &filters.UserID,
		"model_id": &filters.ModelID,
	} {
		if raw := q.Get(param); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, "Invalid "+param)
				return
			}
			*target = &id
		}
	}
	if raw := q.Get("success"); raw != "" {
		success := raw == "true"
		filters.Success = &success
	}
	var parseErr error
	filters.Since, parseErr = parseTimeParam(q.Get("since"))
	if parseErr != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid since timestamp")
		return
	}
	filters.Until, parseErr = parseTimeParam(q.Get("until"))
	if parseErr != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid until timestamp")
		return
	}

	repo := storage.NewRequestRepository(h.db)
	result, err := repo.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list audit records", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, utils.PagedResponse{
		Count:    result.TotalCount,
		Page:     result.Page,
		PageSize: result.PageSize,
		Results:  result.Requests,
	})
}

// GetByID handles GET /admin/chat-records/{id}.
func (h *AdminRequestsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid record ID")
		return
	}

	repo := storage.NewRequestRepository(h.db)
	record, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrRequestNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Record not found")
			return
		}
		h.logger.Error("Failed to get audit record", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get record")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, record)
}

// Statistics handles GET /admin/chat-records/statistics: aggregate usage
// plus a per-model breakdown.
func (h *AdminRequestsHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	var filters storage.StatisticsFilters

	q := r.URL.Query()
	if raw := q.Get("quota_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota_id")
			return
		}
		filters.QuotaID = &id
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid user_id")
			return
		}
		filters.UserID = &id
	}
	var parseErr error
	filters.Since, parseErr = parseTimeParam(q.Get("since"))
	if parseErr != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid since timestamp")
		return
	}
	filters.Until, parseErr = parseTimeParam(q.Get("until"))
	if parseErr != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid until timestamp")
		return
	}

	limit := 10
	if raw := q.Get("top_models"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid top_models")
			return
		}
		limit = n
	}

	repo := storage.NewRequestRepository(h.db)
	stats, err := repo.GetStatistics(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to aggregate statistics", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}

	breakdown, err := repo.GetModelBreakdown(r.Context(), filters, limit)
	if err != nil {
		h.logger.Error("Failed to compute model breakdown", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}

	days := 30
	if raw := q.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid days")
			return
		}
		days = n
	}
	daily, err := repo.GetDailyUsage(r.Context(), filters, days)
	if err != nil {
		h.logger.Error("Failed to compute daily usage", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"statistics": stats,
		"models":     breakdown,
		"daily":      daily,
	})
}

// DeadLetters handles GET /admin/audit/dlq: records that exhausted their
// persistence retries.
func (h *AdminRequestsHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	maxItems := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		maxItems = n
	}

	items, err := h.recorder.DeadLetterItems(r.Context(), maxItems)
	if err != nil {
		h.logger.Error("Failed to list dead letters", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

// RetryDeadLetter handles POST /admin/audit/dlq/{id}/retry: replays one
// dead letter through the recorder pipeline.
func (h *AdminRequestsHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing dead letter ID")
		return
	}

	if err := h.recorder.RetryDeadLetterItem(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Dead letter not found")
			return
		}
		h.logger.Error("Failed to retry dead letter", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to retry dead letter")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// parseTimeParam parses an RFC 3339 query parameter, nil when absent.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
