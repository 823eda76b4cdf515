package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ewintr.nl/vidfeed/auth"
	"ewintr.nl/vidfeed/model"
	"ewintr.nl/vidfeed/storage"
	"golang.org/x/exp/slog"
)

const (
	defaultLimit   = 50
	maxLimit       = 200
	manualCategory = "general"
)

var (
	ErrInvalidLimit = errors.New("limit must be a positive number")
	ErrInvalidURL   = errors.New("not a valid YouTube url or video id")
)

type VideoAPI struct {
	catalog  storage.CatalogStore
	roles    storage.RoleStore
	resolver auth.Resolver
	now      func() time.Time
	logger   *slog.Logger
}

func NewVideoAPI(catalog storage.CatalogStore, roles storage.RoleStore, resolver auth.Resolver, logger *slog.Logger) *VideoAPI {
	return &VideoAPI{
		catalog:  catalog,
		roles:    roles,
		resolver: resolver,
		now:      time.Now,
		logger:   logger,
	}
}

func (v *VideoAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	videoID, _ := ShiftPath(r.URL.Path)

	switch {
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && videoID == "":
		v.List(w, r)
	case r.Method == http.MethodPost && videoID == "":
		v.Add(w, r)
	case r.Method == http.MethodGet:
		v.Get(w, r, model.CandidateID(videoID))
	case r.Method == http.MethodDelete && videoID != "":
		v.Delete(w, r, model.CandidateID(videoID))
	default:
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the video api", r.Method, videoID))
	}
}

type respVideo struct {
	ID        int64     `json:"id"`
	VideoID   string    `json:"video_id"`
	Title     *string   `json:"title"`
	Source    string    `json:"source"`
	Tags      []string  `json:"tags"`
	UserID    *string   `json:"user_id"`
	Category  *string   `json:"category"`
	ViewCount int       `json:"view_count"`
	CreatedAt time.Time `json:"created_at"`
}

func newRespVideo(video *model.Video) respVideo {
	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}
	return respVideo{
		ID:        video.ID,
		VideoID:   string(video.VideoID),
		Title:     video.Title,
		Source:    string(video.Source),
		Tags:      tags,
		UserID:    video.UserID,
		Category:  video.Category,
		ViewCount: video.ViewCount,
		CreatedAt: video.CreatedAt,
	}
}

func (v *VideoAPI) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit", ErrInvalidLimit)
			return
		}
		limit = l
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		videos []*model.Video
		err    error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		videos, err = v.catalog.SearchVideos(r.Context(), q, limit)
	} else {
		videos, err = v.catalog.ListVideos(r.Context(), limit)
	}
	if err != nil {
		v.returnErr(r.Context(), w, http.StatusInternalServerError, "could not list videos", err)
		return
	}

	resp := make([]respVideo, 0, len(videos))
	for _, video := range videos {
		resp = append(resp, newRespVideo(video))
	}
	JSON(w, http.StatusOK, resp)
}

func (v *VideoAPI) Get(w http.ResponseWriter, r *http.Request, id model.CandidateID) {
	video, err := v.catalog.GetVideo(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		Error(w, http.StatusNotFound, "video not found", err)
	case err != nil:
		v.returnErr(r.Context(), w, http.StatusInternalServerError, "could not get video", err)
	default:
		JSON(w, http.StatusOK, newRespVideo(video))
	}
}

type addRequest struct {
	URL string `json:"url"`
}

// Add stores a YouTube video submitted by a user. These do not count
// against the daily aggregation limit.
func (v *VideoAPI) Add(w http.ResponseWriter, r *http.Request) {
	userID, ok := v.authenticate(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		Error(w, http.StatusBadRequest, "could not read body", err)
		return
	}
	var req addRequest
	if err := json.Unmarshal(body, &req); err != nil {
		Error(w, http.StatusBadRequest, "could not parse body", err)
		return
	}
	ytID, ok := model.ParseYoutubeID(req.URL)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid url", fmt.Errorf("%w: %q", ErrInvalidURL, req.URL))
		return
	}

	category := manualCategory
	video := &model.Video{
		VideoID:   model.NewCandidateID(model.SourceYoutube, ytID),
		Source:    model.SourceYoutube,
		Tags:      []string{},
		UserID:    &userID,
		Category:  &category,
		CreatedAt: v.now().UTC(),
	}
	err = v.catalog.InsertVideo(r.Context(), video)
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		Error(w, http.StatusConflict, "video already exists", err)
	case err != nil:
		v.returnErr(r.Context(), w, http.StatusInternalServerError, "could not add video", err)
	default:
		v.logger.Info("video added", slog.String("video", string(video.VideoID)), slog.String("user", userID))
		JSON(w, http.StatusCreated, newRespVideo(video))
	}
}

// Delete removes a video. Only the user that added it or an admin may do so.
func (v *VideoAPI) Delete(w http.ResponseWriter, r *http.Request, id model.CandidateID) {
	userID, ok := v.authenticate(w, r)
	if !ok {
		return
	}

	video, err := v.catalog.GetVideo(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		Error(w, http.StatusNotFound, "video not found", err)
		return
	case err != nil:
		v.returnErr(r.Context(), w, http.StatusInternalServerError, "could not get video", err)
		return
	}

	if video.UserID == nil || *video.UserID != userID {
		isAdmin, err := v.roles.IsAdmin(r.Context(), userID)
		if err != nil {
			v.returnErr(r.Context(), w, http.StatusInternalServerError, "could not check role", err)
			return
		}
		if !isAdmin {
			Error(w, http.StatusForbidden, "forbidden", fmt.Errorf("you can only delete your own videos"))
			return
		}
	}

	if err := v.catalog.DeleteVideo(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			Error(w, http.StatusNotFound, "video not found", err)
			return
		}
		v.returnErr(r.Context(), w, http.StatusInternalServerError, "could not delete video", err)
		return
	}
	v.logger.Info("video deleted", slog.String("video", string(id)), slog.String("user", userID))
	Message(w, http.StatusOK, "video deleted")
}

func (v *VideoAPI) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := v.resolver.Resolve(r.Context(), auth.BearerToken(r))
	if err != nil {
		JSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return "", false
	}
	return userID, true
}

func (v *VideoAPI) returnErr(_ context.Context, w http.ResponseWriter, status int, message string, err error, details ...any) {
	v.logger.Error(message, slog.String("err", err.Error()), slog.String("details", fmt.Sprintf("%+v", details)))
	Error(w, status, message, err, details...)
}
