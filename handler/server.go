package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"

	"ewintr.nl/vidfeed/guard"
	"golang.org/x/exp/slog"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
	"Access-Control-Allow-Methods": "GET, POST, DELETE, OPTIONS",
}

type Server struct {
	apis    map[string]http.Handler
	guarded http.Handler
	logger  *slog.Logger
}

func NewServer(apis map[string]http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		apis:   apis,
		logger: logger,
	}
	s.guarded = guard.Middleware(logger, http.HandlerFunc(s.route))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	originalPath := r.URL.Path
	rec := httptest.NewRecorder() // records the response to be able to mix writing headers and content

	for k, v := range corsHeaders {
		rec.Header().Set(k, v)
	}
	rec.Header().Set("Content-Type", "application/json")

	func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic while serving request", slog.String("path", originalPath), slog.Any("panic", p))
				rec = httptest.NewRecorder()
				for k, v := range corsHeaders {
					rec.Header().Set(k, v)
				}
				rec.Header().Set("Content-Type", "application/json")
				JSON(rec, http.StatusInternalServerError, map[string]string{"error": fmt.Sprint(p)})
			}
		}()
		s.guarded.ServeHTTP(rec, r)
	}()

	returnResponse(w, rec)
	s.logger.Info("request served", slog.String("method", r.Method), slog.String("path", originalPath), slog.Int("status", rec.Code))
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	head, tail := ShiftPath(r.URL.Path)
	if len(head) == 0 {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		Index(w)
		return
	}
	api, ok := s.apis[head]
	if !ok {
		Error(w, http.StatusNotFound, "Not found", fmt.Errorf("%s is not a valid path", r.URL.Path))
		return
	}
	r.URL.Path = tail
	api.ServeHTTP(w, r)
}

func returnResponse(w http.ResponseWriter, rec *httptest.ResponseRecorder) {
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	w.Write(rec.Body.Bytes())
}

// ShiftPath splits off the first component of p, which will be cleaned of
// relative components before processing. head will never contain a slash and
// tail will always be a rooted path without trailing slash.
// See https://blog.merovius.de/posts/2017-06-18-how-not-to-use-an-http-router/
func ShiftPath(p string) (string, string) {
	p = path.Clean("/" + p)

	// restore iri prefixes that might be mangled by path.Clean
	for k, v := range map[string]string{
		"http:/":  "http://",
		"https:/": "https://",
	} {
		p = strings.Replace(p, k, v, -1)
	}

	i := strings.Index(p[1:], "/") + 1
	if i <= 0 {
		return p[1:], "/"
	}
	return p[1:i], p[i:]
}
