package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Resolver maps a bearer token to the id of the user it belongs to.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// BearerToken returns the token from an "Authorization: Bearer <token>"
// header, or an empty string.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Supabase resolves tokens with the /auth/v1/user endpoint of a Supabase
// project.
type Supabase struct {
	url    string
	apiKey string
	client *http.Client
}

func NewSupabase(url, apiKey string, client *http.Client) *Supabase {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Supabase{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		client: client,
	}
}

type supabaseUser struct {
	ID string `json:"id"`
}

func (s *Supabase) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/auth/v1/user", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not reach identity provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var user supabaseUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("could not decode user: %w", err)
	}
	if user.ID == "" {
		return "", ErrInvalidToken
	}

	return user.ID, nil
}

// Static resolves a fixed set of tokens, for local use.
type Static map[string]string

func (s Static) Resolve(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	userID, ok := s[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}
