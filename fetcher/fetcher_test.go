package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"
)

var (
	testPool = []string{"firearm instruction", "gun safety", "marksmanship training", "tactical shooting", "firearms education"}
	testNow  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testOptions() Options {
	return Options{
		Timeout:       2 * time.Second,
		RatePerSecond: 1000,
		Tags:          []string{"firearm", "training", "education"},
		Now:           func() time.Time { return testNow },
		Rand:          rand.New(rand.NewSource(1)),
		Logger:        slog.New(slog.NewTextHandler(io.Discard)),
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestPickKeywords(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	t.Run("subset", func(t *testing.T) {
		picked := PickKeywords(testPool, 3, rnd)
		assert.Len(t, picked, 3)
		seen := map[string]bool{}
		for _, kw := range picked {
			assert.Contains(t, testPool, kw)
			assert.False(t, seen[kw])
			seen[kw] = true
		}
	})

	t.Run("small pool", func(t *testing.T) {
		pool := []string{"a", "b"}
		assert.Equal(t, pool, PickKeywords(pool, 3, rnd))
	})

	t.Run("pool untouched", func(t *testing.T) {
		pool := []string{"a", "b", "c", "d", "e"}
		PickKeywords(pool, 2, rnd)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, pool)
	})
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "a OR b OR c", Query([]string{"a", "b", "c"}))
	assert.Equal(t, "single", Query([]string{"single"}))
}

func TestUnconfigured(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	vimeo := NewVimeo("", testOptions())
	vimeo.endpoint = srv.URL
	dm := NewDailymotion("id", "", testOptions())
	dm.endpoint = srv.URL
	fb := NewFacebook("", testOptions())
	fb.endpoint = srv.URL
	yt := NewYoutube("", testOptions())
	yt.endpoint = srv.URL + "/"

	for _, p := range []Provider{vimeo, dm, fb, yt} {
		assert.False(t, p.IsConfigured(), p.Name())
		got := p.Fetch(context.Background(), testPool)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
	assert.Equal(t, 0, calls)
}

func TestLastSegment(t *testing.T) {
	for _, tc := range []struct {
		in  string
		exp string
	}{
		{in: "/videos/123", exp: "123"},
		{in: "/videos/123/", exp: "123"},
		{in: "456", exp: "456"},
		{in: "", exp: ""},
	} {
		assert.Equal(t, tc.exp, lastSegment(tc.in))
	}
}
