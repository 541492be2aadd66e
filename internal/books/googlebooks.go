// Package books looks up preview availability through the Google Books
// volumes API.
package books

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const volumesEndpoint = "https://www.googleapis.com/books/v1/volumes"

// ErrNoPreview is returned when no volume with a browsable preview matches
// the title and author.
var ErrNoPreview = errors.New("no preview available for this book")

// Volume is the subset of a Google Books volume the service needs.
type Volume struct {
	ID          string
	Title       string
	Authors     []string
	PreviewLink string
	Viewability string
	PageCount   int
}

// Client queries the volumes API. APIKey is optional; unauthenticated
// requests work with a lower quota.
type Client struct {
	APIKey     string
	HTTPClient *http.Client
	baseURL    string
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    volumesEndpoint,
	}
}

type volumesResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		ID         string `json:"id"`
		VolumeInfo struct {
			Title       string   `json:"title"`
			Authors     []string `json:"authors"`
			PageCount   int      `json:"pageCount"`
			PreviewLink string   `json:"previewLink"`
		} `json:"volumeInfo"`
		AccessInfo struct {
			Viewability string `json:"viewability"`
		} `json:"accessInfo"`
	} `json:"items"`
}

// FindPreview searches for the volume matching title and author and returns
// the first one whose pages can actually be browsed.
func (c *Client) FindPreview(ctx context.Context, title, author string) (Volume, error) {
	q := fmt.Sprintf("intitle:%s", title)
	if author != "" {
		q += fmt.Sprintf(" inauthor:%s", author)
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", "10")
	if c.APIKey != "" {
		params.Set("key", c.APIKey)
	}

	base := c.baseURL
	if base == "" {
		base = volumesEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return Volume{}, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Volume{}, fmt.Errorf("volumes request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Volume{}, fmt.Errorf("volumes API returned status %d", resp.StatusCode)
	}

	var vr volumesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return Volume{}, fmt.Errorf("failed to decode volumes response: %w", err)
	}

	for _, item := range vr.Items {
		viewable := item.AccessInfo.Viewability == "PARTIAL" || item.AccessInfo.Viewability == "ALL_PAGES"
		if !viewable || item.VolumeInfo.PreviewLink == "" {
			continue
		}
		v := Volume{
			ID:          item.ID,
			Title:       item.VolumeInfo.Title,
			Authors:     item.VolumeInfo.Authors,
			PreviewLink: item.VolumeInfo.PreviewLink,
			Viewability: item.AccessInfo.Viewability,
			PageCount:   item.VolumeInfo.PageCount,
		}
		log.Info().Str("volume_id", v.ID).Str("viewability", v.Viewability).Msg("preview volume found")
		return v, nil
	}
	log.Info().Str("title", title).Str("author", author).Int("total", vr.TotalItems).Msg("no browsable preview among results")
	return Volume{}, ErrNoPreview
}
