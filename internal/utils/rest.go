package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}

// Page describes a pagination window parsed from query parameters.
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset for SQL queries.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// ParsePage reads page/page_size query parameters with bounds applied.
func ParsePage(r *http.Request, defaultSize, maxSize int) Page {
	page := Page{Number: 1, Size: defaultSize}

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Number = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Size = n
		}
	}
	if page.Size > maxSize {
		page.Size = maxSize
	}
	return page
}

// PagedResponse is the envelope for paginated list endpoints.
type PagedResponse struct {
	Count    int         `json:"count"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Results  interface{} `json:"results"`
}
