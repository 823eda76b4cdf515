package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Source string

const (
	SourceYoutube     Source = "Youtube"
	SourceVimeo       Source = "Vimeo"
	SourceDailymotion Source = "Dailymotion"
	SourceFacebook    Source = "Facebook"
)

// Sources lists the values accepted by the source_types table.
var Sources = []Source{SourceYoutube, SourceVimeo, SourceDailymotion, SourceFacebook}

func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// Prefix is the lowercase provider name used in candidate ids.
func (s Source) Prefix() string {
	return strings.ToLower(string(s))
}

// CandidateID has the form provider:nativeID, e.g. youtube:abc123.
type CandidateID string

func NewCandidateID(source Source, nativeID string) CandidateID {
	return CandidateID(fmt.Sprintf("%s:%s", source.Prefix(), nativeID))
}

func (id CandidateID) Split() (string, string) {
	provider, native, ok := strings.Cut(string(id), ":")
	if !ok {
		return "", string(id)
	}
	return provider, native
}

// Candidate is a video proposed by a provider that is not yet known to be
// unique or persisted.
type Candidate struct {
	ID        CandidateID
	Title     *string
	Source    Source
	CreatedAt time.Time
	Tags      []string
}

// Video is a catalog entry.
type Video struct {
	ID        int64
	VideoID   CandidateID
	Title     *string
	Source    Source
	Tags      []string
	UserID    *string
	Category  *string
	ViewCount int
	CreatedAt time.Time
}

func (c Candidate) Video() *Video {
	tags := make([]string, len(c.Tags))
	copy(tags, c.Tags)

	return &Video{
		VideoID:   c.ID,
		Title:     c.Title,
		Source:    c.Source,
		Tags:      tags,
		CreatedAt: c.CreatedAt,
	}
}

var youtubeURLRE = regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=|youtu\.be/|youtube\.com/shorts/)([\w-]{11})(?:[^\w-]|$)`)
var youtubeIDRE = regexp.MustCompile(`^[\w-]{11}$`)

// ParseYoutubeID accepts a YouTube watch/short/shorts URL or a bare 11
// character video id and returns the id.
func ParseYoutubeID(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if m := youtubeURLRE.FindStringSubmatch(input); len(m) == 2 {
		return m[1], true
	}
	if youtubeIDRE.MatchString(input) {
		return input, true
	}

	return "", false
}
