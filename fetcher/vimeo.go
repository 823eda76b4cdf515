package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ewintr.nl/vidfeed/model"
)

const vimeoEndpoint = "https://api.vimeo.com"

type Vimeo struct {
	base
	token    string
	endpoint string
}

func NewVimeo(token string, opts Options) *Vimeo {
	return &Vimeo{
		base:     newBase(model.SourceVimeo, opts),
		token:    token,
		endpoint: vimeoEndpoint,
	}
}

func (v *Vimeo) IsConfigured() bool {
	return v.token != ""
}

type vimeoResponse struct {
	Data []struct {
		URI  string `json:"uri"`
		Name string `json:"name"`
	} `json:"data"`
}

func (v *Vimeo) Fetch(ctx context.Context, keywords []string) []model.Candidate {
	if !v.IsConfigured() {
		return []model.Candidate{}
	}
	query := Query(v.picker.Pick(keywords))
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", fmt.Sprint(maxResults))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"/videos?"+params.Encode(), nil)
	if err != nil {
		return v.failed("could not create request", query, err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	req.Header.Set("Accept", "application/json")

	var resp vimeoResponse
	if err := v.getJSON(req, &resp); err != nil {
		return v.failed("vimeo search failed", query, err)
	}

	candidates := make([]model.Candidate, 0, len(resp.Data))
	for _, item := range resp.Data {
		id := lastSegment(item.URI)
		if id == "" {
			continue
		}
		candidates = append(candidates, v.candidate(id, item.Name))
	}

	return v.done(query, candidates)
}

// lastSegment returns the part after the final slash, "/videos/123" gives
// "123".
func lastSegment(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
