package fetcher

import (
	"context"
	"net/http"
	"net/url"

	"ewintr.nl/vidfeed/model"
)

const facebookEndpoint = "https://graph.facebook.com/v18.0"

type Facebook struct {
	base
	token    string
	endpoint string
}

func NewFacebook(token string, opts Options) *Facebook {
	return &Facebook{
		base:     newBase(model.SourceFacebook, opts),
		token:    token,
		endpoint: facebookEndpoint,
	}
}

func (f *Facebook) IsConfigured() bool {
	return f.token != ""
}

type facebookResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"data"`
}

func (f *Facebook) Fetch(ctx context.Context, keywords []string) []model.Candidate {
	if !f.IsConfigured() {
		return []model.Candidate{}
	}
	query := Query(f.picker.Pick(keywords))
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("type", "video")
	params.Set("q", query)
	params.Set("fields", "id,title,description")
	params.Set("access_token", f.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"/search?"+params.Encode(), nil)
	if err != nil {
		return f.failed("could not create request", query, err)
	}

	var resp facebookResponse
	if err := f.getJSON(req, &resp); err != nil {
		return f.failed("facebook search failed", query, err)
	}

	candidates := make([]model.Candidate, 0, len(resp.Data))
	for _, item := range resp.Data {
		if item.ID == "" {
			continue
		}
		title := item.Title
		if title == "" {
			title = item.Description
		}
		candidates = append(candidates, f.candidate(item.ID, title))
	}

	return f.done(query, candidates)
}
