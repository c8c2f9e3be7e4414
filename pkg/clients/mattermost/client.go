// Package mattermost is a minimal Mattermost REST client covering the
// endpoints loom needs: posting messages, channel lookups and polling a
// channel for new posts.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Client talks to a Mattermost server with a personal access or bot token.
type Client struct {
	serverURL string
	token     string
	http      *http.Client
}

func NewClient(serverURL, token string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

// Channel is the subset of channel metadata loom reads.
type Channel struct {
	ID            string `json:"id"`
	TeamID        string `json:"team_id"`
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Type          string `json:"type"`
	TotalMsgCount int64  `json:"total_msg_count"`
}

// Post is a single channel message.
type Post struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	CreateAt  int64  `json:"create_at"`
}

// Post publishes a message to a channel. Mattermost answers 201 on success.
func (c *Client) Post(ctx context.Context, channelID, message string) error {
	payload, err := json.Marshal(map[string]string{
		"channel_id": channelID,
		"message":    message,
	})
	if err != nil {
		return fmt.Errorf("mattermost: marshal post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v4/posts", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mattermost: create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mattermost: send post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("mattermost: post to channel %s returned HTTP %d: %s", channelID, resp.StatusCode, readErrorBody(resp.Body))
	}

	return nil
}

// Channel fetches channel metadata by ID.
func (c *Client) Channel(ctx context.Context, channelID string) (*Channel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/v4/channels/"+channelID, nil)
	if err != nil {
		return nil, fmt.Errorf("mattermost: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mattermost: fetch channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mattermost: channel %s returned HTTP %d: %s", channelID, resp.StatusCode, readErrorBody(resp.Body))
	}

	var channel Channel
	if err := json.NewDecoder(resp.Body).Decode(&channel); err != nil {
		return nil, fmt.Errorf("mattermost: decode channel: %w", err)
	}

	return &channel, nil
}

type postList struct {
	Order []string        `json:"order"`
	Posts map[string]Post `json:"posts"`
}

// PostsSince returns the posts created in a channel after the given
// timestamp (milliseconds since epoch), oldest first. Mattermost lists
// posts newest first, so the order is reversed for polling callers.
func (c *Client) PostsSince(ctx context.Context, channelID string, since int64) ([]Post, error) {
	url := c.serverURL + "/api/v4/channels/" + channelID + "/posts?since=" + strconv.FormatInt(since, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mattermost: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mattermost: fetch posts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mattermost: posts for channel %s returned HTTP %d: %s", channelID, resp.StatusCode, readErrorBody(resp.Body))
	}

	var list postList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("mattermost: decode posts: %w", err)
	}

	posts := make([]Post, 0, len(list.Order))

	for i := len(list.Order) - 1; i >= 0; i-- {
		post, ok := list.Posts[list.Order[i]]
		if !ok {
			continue
		}

		posts = append(posts, post)
	}

	return posts, nil
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(body))
}
