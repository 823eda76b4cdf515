package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ewintr.nl/vidfeed/aggregate"
	"ewintr.nl/vidfeed/auth"
	"golang.org/x/exp/slog"
)

type Aggregator interface {
	Run(ctx context.Context, token string) aggregate.Outcome
}

// FetchAPI triggers an aggregation run.
type FetchAPI struct {
	aggregator Aggregator
	logger     *slog.Logger
}

func NewFetchAPI(aggregator Aggregator, logger *slog.Logger) *FetchAPI {
	return &FetchAPI{
		aggregator: aggregator,
		logger:     logger,
	}
}

func (f *FetchAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subPath, _ := ShiftPath(r.URL.Path)

	switch {
	case subPath != "":
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("subpath %q does not exist", subPath))
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost:
		f.Fetch(w, r)
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		Error(w, http.StatusMethodNotAllowed, "method not allowed", fmt.Errorf("method %s is not supported", r.Method))
	}
}

type fetchResponse struct {
	Success            bool       `json:"success"`
	Count              int        `json:"count"`
	DailyTotal         int        `json:"dailyTotal"`
	LastFetchTime      *time.Time `json:"lastFetchTime"`
	NextFetchAvailable *time.Time `json:"nextFetchAvailable"`
}

type rejectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (f *FetchAPI) Fetch(w http.ResponseWriter, r *http.Request) {
	out := f.aggregator.Run(r.Context(), auth.BearerToken(r))

	switch {
	case out.Success():
		JSON(w, out.Status(), fetchResponse{
			Success:            true,
			Count:              out.Count,
			DailyTotal:         out.DailyTotal,
			LastFetchTime:      out.LastFetchTime,
			NextFetchAvailable: out.NextFetchAvailable,
		})
	case out.IsError():
		JSON(w, out.Status(), errorResponse{Error: out.Message})
	default:
		JSON(w, out.Status(), rejectResponse{Success: false, Message: out.Message})
	}
}
