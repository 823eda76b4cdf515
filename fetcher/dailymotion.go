package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"ewintr.nl/vidfeed/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const dailymotionEndpoint = "https://api.dailymotion.com"

type Dailymotion struct {
	base
	clientID     string
	clientSecret string
	endpoint     string

	mu    sync.Mutex
	token *oauth2.Token
}

func NewDailymotion(clientID, clientSecret string, opts Options) *Dailymotion {
	return &Dailymotion{
		base:         newBase(model.SourceDailymotion, opts),
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     dailymotionEndpoint,
	}
}

func (d *Dailymotion) IsConfigured() bool {
	return d.clientID != "" && d.clientSecret != ""
}

// accessToken returns the last token while it is valid and exchanges the
// client credentials for a new one otherwise. The exchange runs within ctx,
// over the provider's http client.
func (d *Dailymotion) accessToken(ctx context.Context) (*oauth2.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conf := clientcredentials.Config{
		ClientID:     d.clientID,
		ClientSecret: d.clientSecret,
		TokenURL:     d.endpoint + "/oauth/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)
	tok, err := oauth2.ReuseTokenSource(d.token, conf.TokenSource(ctx)).Token()
	if err != nil {
		return nil, err
	}
	d.token = tok

	return tok, nil
}

func (d *Dailymotion) resetToken() {
	d.mu.Lock()
	d.token = nil
	d.mu.Unlock()
}

type dailymotionResponse struct {
	List []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"list"`
}

func (d *Dailymotion) Fetch(ctx context.Context, keywords []string) []model.Candidate {
	if !d.IsConfigured() {
		return []model.Candidate{}
	}
	query := Query(d.picker.Pick(keywords))
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	token, err := d.accessToken(ctx)
	if err != nil {
		return d.failed("could not get dailymotion token", query, err)
	}

	params := url.Values{}
	params.Set("search", query)
	params.Set("fields", "id,title")
	params.Set("limit", fmt.Sprint(maxResults))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/videos?"+params.Encode(), nil)
	if err != nil {
		return d.failed("could not create request", query, err)
	}
	token.SetAuthHeader(req)

	var resp dailymotionResponse
	if err := d.getJSON(req, &resp); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			d.resetToken()
		}
		return d.failed("dailymotion search failed", query, err)
	}

	candidates := make([]model.Candidate, 0, len(resp.List))
	for _, item := range resp.List {
		if item.ID == "" {
			continue
		}
		candidates = append(candidates, d.candidate(item.ID, item.Title))
	}

	return d.done(query, candidates)
}
