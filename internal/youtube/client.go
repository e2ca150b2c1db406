// Package youtube is a minimal YouTube Data API v3 client covering the
// playlist metadata and membership calls the sync pipeline needs.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://www.googleapis.com/youtube/v3"
	defaultHTTPTimeout = 30 * time.Second
	pageSize           = 50
)

// Sentinel errors for the API failure modes the orchestrator treats as
// recoverable per-playlist conditions.
var (
	// ErrInvalidKey indicates the configured API key was rejected.
	ErrInvalidKey = errors.New("youtube: invalid api key")
	// ErrQuotaExceeded indicates the daily API quota is exhausted.
	ErrQuotaExceeded = errors.New("youtube: quota exceeded")
	// ErrNotFound indicates the playlist or channel does not exist.
	ErrNotFound = errors.New("youtube: not found")
)

// playlistIDPattern matches the list= query parameter across the URL shapes
// YouTube hands out (playlist pages, watch pages, youtu.be shares).
var playlistIDPattern = regexp.MustCompile(`[?&]list=([a-zA-Z0-9_-]+)`)

// ExtractPlaylistID returns the playlist ID embedded in a YouTube URL, or ""
// when the URL carries no list parameter.
func ExtractPlaylistID(rawURL string) string {
	decoded, err := url.QueryUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}
	m := playlistIDPattern.FindStringSubmatch(decoded)
	if m == nil {
		return ""
	}
	return m[1]
}

// PlaylistInfo is the playlist-level metadata used to refresh stored entries.
type PlaylistInfo struct {
	PlaylistID   string
	Title        string
	Description  string
	ChannelTitle string
	VideoCount   int
	ThumbnailURL string
}

// PlaylistItem is one video within a playlist's membership.
type PlaylistItem struct {
	VideoID  string
	Title    string
	Position int // 0-based position reported by the API
}

// ChannelPlaylist is one public playlist of a channel.
type ChannelPlaylist struct {
	ID           string
	Title        string
	Description  string
	ThumbnailURL string
	ItemCount    int
}

// Client calls the YouTube Data API v3.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps outgoing API calls at n per second.
func WithRateLimit(n int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(n), n)
	}
}

// New creates a client for the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

type thumbnails struct {
	Default  *thumbnail `json:"default"`
	Medium   *thumbnail `json:"medium"`
	High     *thumbnail `json:"high"`
	Standard *thumbnail `json:"standard"`
}

type thumbnail struct {
	URL string `json:"url"`
}

// bestURL prefers medium quality, falling back through high, standard and
// default, mirroring what the upstream thumbnails actually populate.
func (t thumbnails) bestURL() string {
	for _, cand := range []*thumbnail{t.Medium, t.High, t.Standard, t.Default} {
		if cand != nil && cand.URL != "" {
			return cand.URL
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, resource string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrInvalidKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("key", c.apiKey)
	reqURL := c.baseURL + "/" + resource + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("youtube: %s: %w", resource, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		return c.classify(resource, resp.StatusCode, ae)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("youtube: decode %s response: %w", resource, err)
	}
	return nil
}

func (c *Client) classify(resource string, status int, ae apiError) error {
	reason := ""
	if len(ae.Error.Errors) > 0 {
		reason = ae.Error.Errors[0].Reason
	}
	c.logger.Debug().
		Str("resource", resource).
		Int("status", status).
		Str("reason", reason).
		Msg("api error")

	switch reason {
	case "quotaExceeded", "dailyLimitExceeded":
		return ErrQuotaExceeded
	case "keyInvalid", "badRequest":
		if status == http.StatusBadRequest || reason == "keyInvalid" {
			return ErrInvalidKey
		}
	case "playlistNotFound", "channelNotFound", "notFound":
		return ErrNotFound
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status == http.StatusForbidden {
		return ErrQuotaExceeded
	}
	return fmt.Errorf("youtube: %s returned status %d: %s", resource, status, ae.Error.Message)
}

// GetPlaylistInfo fetches playlist-level metadata, including the first
// video's thumbnail as the playlist cover. The thumbnail fetch is
// best-effort: its failure never fails the call.
func (c *Client) GetPlaylistInfo(ctx context.Context, playlistID string) (*PlaylistInfo, error) {
	var resp struct {
		Items []struct {
			Snippet struct {
				Title        string `json:"title"`
				Description  string `json:"description"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
			ContentDetails struct {
				ItemCount int `json:"itemCount"`
			} `json:"contentDetails"`
		} `json:"items"`
	}

	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", playlistID)
	params.Set("maxResults", "1")
	if err := c.get(ctx, "playlists", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, ErrNotFound
	}

	item := resp.Items[0]
	info := &PlaylistInfo{
		PlaylistID:   playlistID,
		Title:        item.Snippet.Title,
		Description:  item.Snippet.Description,
		ChannelTitle: item.Snippet.ChannelTitle,
		VideoCount:   item.ContentDetails.ItemCount,
	}
	if info.Title == "" {
		info.Title = "Untitled Playlist"
	}

	if thumb, err := c.firstItemThumbnail(ctx, playlistID); err == nil {
		info.ThumbnailURL = thumb
	} else {
		c.logger.Debug().Err(err).Str("playlist", playlistID).Msg("thumbnail fetch failed")
	}
	return info, nil
}

func (c *Client) firstItemThumbnail(ctx context.Context, playlistID string) (string, error) {
	var resp struct {
		Items []struct {
			Snippet struct {
				Thumbnails thumbnails `json:"thumbnails"`
			} `json:"snippet"`
		} `json:"items"`
	}
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("playlistId", playlistID)
	params.Set("maxResults", "1")
	if err := c.get(ctx, "playlistItems", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", ErrNotFound
	}
	return resp.Items[0].Snippet.Thumbnails.bestURL(), nil
}

// GetPlaylistItems fetches the full membership of a playlist, following
// pagination until exhausted. Order follows the playlist order.
func (c *Client) GetPlaylistItems(ctx context.Context, playlistID string) ([]PlaylistItem, error) {
	var items []PlaylistItem
	pageToken := ""

	for {
		var resp struct {
			NextPageToken string `json:"nextPageToken"`
			Items         []struct {
				Snippet struct {
					Title      string `json:"title"`
					Position   int    `json:"position"`
					ResourceID struct {
						VideoID string `json:"videoId"`
					} `json:"resourceId"`
				} `json:"snippet"`
			} `json:"items"`
		}

		params := url.Values{}
		params.Set("part", "snippet")
		params.Set("playlistId", playlistID)
		params.Set("maxResults", fmt.Sprintf("%d", pageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, "playlistItems", params, &resp); err != nil {
			return nil, err
		}

		for _, it := range resp.Items {
			if it.Snippet.ResourceID.VideoID == "" {
				continue
			}
			items = append(items, PlaylistItem{
				VideoID:  it.Snippet.ResourceID.VideoID,
				Title:    it.Snippet.Title,
				Position: it.Snippet.Position,
			})
		}

		if resp.NextPageToken == "" {
			return items, nil
		}
		pageToken = resp.NextPageToken
	}
}

// GetChannelID resolves a channel handle ("@name" or bare) to a channel ID.
func (c *Client) GetChannelID(ctx context.Context, handle string) (string, error) {
	if len(handle) > 0 && handle[0] == '@' {
		handle = handle[1:]
	}

	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	params := url.Values{}
	params.Set("part", "id")
	params.Set("forHandle", handle)
	params.Set("maxResults", "1")
	if err := c.get(ctx, "channels", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", ErrNotFound
	}
	return resp.Items[0].ID, nil
}

// GetChannelPlaylists lists all public playlists of a channel, following
// pagination until exhausted.
func (c *Client) GetChannelPlaylists(ctx context.Context, channelID string) ([]ChannelPlaylist, error) {
	var playlists []ChannelPlaylist
	pageToken := ""

	for {
		var resp struct {
			NextPageToken string `json:"nextPageToken"`
			Items         []struct {
				ID      string `json:"id"`
				Snippet struct {
					Title       string     `json:"title"`
					Description string     `json:"description"`
					Thumbnails  thumbnails `json:"thumbnails"`
				} `json:"snippet"`
				ContentDetails struct {
					ItemCount int `json:"itemCount"`
				} `json:"contentDetails"`
			} `json:"items"`
		}

		params := url.Values{}
		params.Set("part", "snippet,contentDetails")
		params.Set("channelId", channelID)
		params.Set("maxResults", fmt.Sprintf("%d", pageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, "playlists", params, &resp); err != nil {
			return nil, err
		}

		for _, it := range resp.Items {
			playlists = append(playlists, ChannelPlaylist{
				ID:           it.ID,
				Title:        it.Snippet.Title,
				Description:  it.Snippet.Description,
				ThumbnailURL: it.Snippet.Thumbnails.bestURL(),
				ItemCount:    it.ContentDetails.ItemCount,
			})
		}

		if resp.NextPageToken == "" {
			return playlists, nil
		}
		pageToken = resp.NextPageToken
	}
}
