package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const defaultFeedTimeout = 15 * time.Second

var (
	// ErrFeedNotConfigured indicates that no feed URL was provided.
	ErrFeedNotConfigured = errors.New("jobs: feed url is not configured")
	// ErrFeedMalformed indicates a feed response without a jobs array.
	ErrFeedMalformed = errors.New("jobs: feed response is malformed")
)

// FeedConfig configures the job feed client.
type FeedConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// FeedClient pulls postings from an external JSON job feed.
type FeedClient struct {
	url    string
	token  string
	client *resty.Client
}

// NewFeedClient builds a client for the configured feed.
func NewFeedClient(cfg FeedConfig) (*FeedClient, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, ErrFeedNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &FeedClient{url: url, token: strings.TrimSpace(cfg.Token), client: client}, nil
}

// Fetch downloads and parses the feed.
func (c *FeedClient) Fetch(ctx context.Context) ([]Posting, error) {
	request := c.client.R().SetContext(ctx)
	if c.token != "" {
		request.SetAuthToken(c.token)
	}
	response, err := request.Get(c.url)
	if err != nil {
		return nil, newServiceError(opFetch, "request_failed", err)
	}
	if response.IsError() {
		return nil, newServiceError(opFetch, "unexpected_status", fmt.Errorf("feed returned status %d", response.StatusCode()))
	}
	postings, err := ParseFeed(response.Body())
	if err != nil {
		return nil, newServiceError(opFetch, "parse_failed", err)
	}
	return postings, nil
}

// ParseFeed reads the jobs array of a feed document. Unknown fields are ignored.
func ParseFeed(body []byte) ([]Posting, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrFeedMalformed
	}
	jobsArray := gjson.GetBytes(body, "jobs")
	if !jobsArray.IsArray() {
		return nil, ErrFeedMalformed
	}

	postings := make([]Posting, 0, len(jobsArray.Array()))
	jobsArray.ForEach(func(_, entry gjson.Result) bool {
		posting := Posting{
			ExternalID:      entry.Get("id").String(),
			Title:           entry.Get("title").String(),
			Company:         entry.Get("company").String(),
			Location:        entry.Get("location").String(),
			Description:     entry.Get("description").String(),
			Industry:        entry.Get("industry").String(),
			ExperienceLevel: entry.Get("experience_level").String(),
			URL:             entry.Get("url").String(),
		}
		for _, skill := range entry.Get("skills").Array() {
			posting.RequiredSkills = append(posting.RequiredSkills, skill.String())
		}
		if requirements, ok := entry.Get("requirements").Value().(map[string]any); ok {
			posting.Requirements = requirements
		}
		if raw := entry.Get("posted_at").String(); raw != "" {
			if postedAt, err := time.Parse(time.RFC3339, raw); err == nil {
				postedAt = postedAt.UTC()
				posting.PostedAt = &postedAt
			}
		}
		postings = append(postings, posting)
		return true
	})
	return postings, nil
}
