package fetcher

import (
	"context"
	"net/http"

	"ewintr.nl/vidfeed/model"
	"golang.org/x/exp/slog"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type Youtube struct {
	base
	apiKey   string
	endpoint string
}

func NewYoutube(apiKey string, opts Options) *Youtube {
	return &Youtube{
		base:   newBase(model.SourceYoutube, opts),
		apiKey: apiKey,
	}
}

func (y *Youtube) IsConfigured() bool {
	return y.apiKey != ""
}

// service builds a client that authenticates with the API key on the
// configured http client. option.WithAPIKey is ignored once a custom client
// is given, hence the transport wrapper.
func (y *Youtube) service(ctx context.Context) (*youtube.Service, error) {
	client := &http.Client{
		Transport: &transport.APIKey{
			Key:       y.apiKey,
			Transport: y.client.Transport,
		},
		Timeout: y.client.Timeout,
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if y.endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.endpoint))
	}

	return youtube.NewService(ctx, opts...)
}

func (y *Youtube) Fetch(ctx context.Context, keywords []string) []model.Candidate {
	if !y.IsConfigured() {
		return []model.Candidate{}
	}
	query := Query(y.picker.Pick(keywords))
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	svc, err := y.service(ctx)
	if err != nil {
		return y.failed("could not create youtube client", query, err)
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return y.failed("rate limit", query, err)
	}
	resp, err := svc.Search.
		List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return y.failed("youtube search failed", query, err)
	}

	candidates := make([]model.Candidate, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			y.logger.Debug("skipping result without video id", slog.String("query", query))
			continue
		}
		title := ""
		if item.Snippet != nil {
			title = item.Snippet.Title
		}
		candidates = append(candidates, y.candidate(item.Id.VideoId, title))
	}

	return y.done(query, candidates)
}
