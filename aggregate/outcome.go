package aggregate

import (
	"net/http"
	"time"
)

type Reason string

const (
	ReasonCompleted        Reason = "completed"
	ReasonUnauthorized     Reason = "unauthorized"
	ReasonForbidden        Reason = "forbidden"
	ReasonQuotaExceeded    Reason = "quota_exceeded"
	ReasonNoSources        Reason = "no_sources_available"
	ReasonNoNewVideos      Reason = "no_new_videos"
	ReasonAllInsertsFailed Reason = "all_inserts_failed"
	ReasonInternal         Reason = "internal"
)

const (
	MessageQuotaExceeded    = "Daily video limit reached. Try again tomorrow."
	MessageNoSources        = "No videos found from any source. Please try again later."
	MessageNoNewVideos      = "No new unique videos found. Try again later."
	MessageAllInsertsFailed = "Failed to insert any videos."
	MessageMissingToken     = "Missing authorization header"
	MessageInvalidToken     = "Invalid or expired token"
	MessageForbidden        = "Admin access required"
)

// Outcome is the result of one aggregation run.
type Outcome struct {
	Reason             Reason
	Message            string
	Count              int
	DailyTotal         int
	LastFetchTime      *time.Time
	NextFetchAvailable *time.Time
	Err                error
}

func (o Outcome) Success() bool {
	return o.Reason == ReasonCompleted
}

func (o Outcome) Status() int {
	switch o.Reason {
	case ReasonCompleted, ReasonNoNewVideos:
		return http.StatusOK
	case ReasonUnauthorized:
		return http.StatusUnauthorized
	case ReasonForbidden:
		return http.StatusForbidden
	case ReasonQuotaExceeded:
		return http.StatusTooManyRequests
	case ReasonNoSources:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsError reports whether the outcome is reported as an error instead of a
// regular result.
func (o Outcome) IsError() bool {
	switch o.Reason {
	case ReasonUnauthorized, ReasonForbidden, ReasonInternal:
		return true
	}
	return false
}
