package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"ewintr.nl/vidfeed/model"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

const (
	keywordsPerQuery = 3
	maxResults       = 10
)

// Provider searches one external video platform. Fetch never fails: any
// problem is logged and results in an empty slice.
type Provider interface {
	Name() model.Source
	IsConfigured() bool
	Fetch(ctx context.Context, keywords []string) []model.Candidate
}

type Options struct {
	HTTPClient       *http.Client
	Timeout          time.Duration
	RatePerSecond    float64
	KeywordsPerQuery int
	Tags             []string
	Now              func() time.Time
	Rand             *rand.Rand
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 2
	}
	if o.KeywordsPerQuery <= 0 {
		o.KeywordsPerQuery = keywordsPerQuery
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	return o
}

// base holds what every provider client needs besides its credentials.
type base struct {
	source  model.Source
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	picker  *KeywordPicker
	tags    []string
	now     func() time.Time
	logger  *slog.Logger
}

func newBase(source model.Source, opts Options) base {
	opts = opts.withDefaults()
	return base{
		source:  source,
		client:  opts.HTTPClient,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		picker:  NewKeywordPicker(opts.Rand, opts.KeywordsPerQuery),
		tags:    opts.Tags,
		now:     opts.Now,
		logger:  opts.Logger.With(slog.String("provider", string(source))),
	}
}

func (b *base) Name() model.Source {
	return b.source
}

func (b *base) candidate(nativeID, title string) model.Candidate {
	var t *string
	if title = strings.TrimSpace(title); title != "" {
		t = &title
	}
	tags := make([]string, len(b.tags))
	copy(tags, b.tags)

	return model.Candidate{
		ID:        model.NewCandidateID(b.source, nativeID),
		Title:     t,
		Source:    b.source,
		CreatedAt: b.now().UTC(),
		Tags:      tags,
	}
}

// getJSON waits for the rate limiter, performs req and decodes a 2xx body
// into dst.
func (b *base) getJSON(req *http.Request, dst any) error {
	if err := b.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (b *base) failed(msg, query string, err error) []model.Candidate {
	b.logger.Error(msg, slog.String("query", query), slog.String("err", err.Error()))
	return []model.Candidate{}
}

func (b *base) done(query string, candidates []model.Candidate) []model.Candidate {
	if len(candidates) == 0 {
		b.logger.Warn("no videos found", slog.String("query", query))
		return []model.Candidate{}
	}
	b.logger.Info("fetched videos", slog.String("query", query), slog.Int("count", len(candidates)))

	return candidates
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// KeywordPicker selects a random subset of a keyword pool per call, so that
// repeated searches return different results.
type KeywordPicker struct {
	mu  sync.Mutex
	rnd *rand.Rand
	n   int
}

func NewKeywordPicker(rnd *rand.Rand, n int) *KeywordPicker {
	return &KeywordPicker{rnd: rnd, n: n}
}

func (p *KeywordPicker) Pick(pool []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PickKeywords(pool, p.n, p.rnd)
}

// PickKeywords returns n random keywords from pool, or a copy of the whole
// pool when it has n or fewer entries. The pool itself is not modified.
func PickKeywords(pool []string, n int, rnd *rand.Rand) []string {
	picked := make([]string, len(pool))
	copy(picked, pool)
	if len(picked) <= n {
		return picked
	}
	rnd.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})

	return picked[:n]
}

// Query joins keywords into an OR search.
func Query(keywords []string) string {
	return strings.Join(keywords, " OR ")
}
