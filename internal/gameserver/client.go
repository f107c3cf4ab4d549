package gameserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/lunaris-team/bindery/internal/models"
)

// Client talks to the game server's session API. It also owns the set of
// names currently frozen pending confirmation, so a crash of the game server
// conversation cannot leave the service guessing.
type Client struct {
	client *resty.Client

	mu     sync.Mutex
	frozen map[string]struct{}
}

func NewClient(baseURL, token string) *Client {
	c := resty.New().SetBaseURL(baseURL)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{
		client: c,
		frozen: make(map[string]struct{}),
	}
}

func (c *Client) IsOnline(ctx context.Context, playerName string) (bool, error) {
	type playerResponse struct {
		Online bool `json:"online"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&playerResponse{}).
		Get(fmt.Sprintf("/players/%s", models.NormalizeName(playerName)))
	if err != nil {
		return false, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d %s", resp.StatusCode(), string(resp.Body()))
	}
	return resp.Result().(*playerResponse).Online, nil
}

func (c *Client) PrimaryAuthCompleted(ctx context.Context, playerName string) (bool, error) {
	type authResponse struct {
		PrimaryCompleted bool `json:"primary_completed"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&authResponse{}).
		Get(fmt.Sprintf("/players/%s/auth", models.NormalizeName(playerName)))
	if err != nil {
		return false, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d %s", resp.StatusCode(), string(resp.Body()))
	}
	return resp.Result().(*authResponse).PrimaryCompleted, nil
}

func (c *Client) SendMessage(ctx context.Context, playerName, message string) error {
	return c.post(ctx, fmt.Sprintf("/players/%s/message", models.NormalizeName(playerName)), map[string]string{
		"message": message,
	})
}

func (c *Client) Kick(ctx context.Context, playerName, reason string) error {
	c.setFrozen(playerName, false)
	return c.post(ctx, fmt.Sprintf("/players/%s/kick", models.NormalizeName(playerName)), map[string]string{
		"reason": reason,
	})
}

func (c *Client) Freeze(ctx context.Context, playerName string) error {
	if err := c.post(ctx, fmt.Sprintf("/players/%s/freeze", models.NormalizeName(playerName)), nil); err != nil {
		return err
	}
	c.setFrozen(playerName, true)
	return nil
}

func (c *Client) Unfreeze(ctx context.Context, playerName string) error {
	c.setFrozen(playerName, false)
	return c.post(ctx, fmt.Sprintf("/players/%s/unfreeze", models.NormalizeName(playerName)), nil)
}

func (c *Client) CompleteAuthStep(ctx context.Context, playerName string) error {
	return c.post(ctx, fmt.Sprintf("/players/%s/auth/complete", models.NormalizeName(playerName)), nil)
}

// Frozen reports whether the player is currently suspended by this service.
func (c *Client) Frozen(playerName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.frozen[models.NormalizeName(playerName)]
	return ok
}

func (c *Client) setFrozen(playerName string, frozen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if frozen {
		c.frozen[models.NormalizeName(playerName)] = struct{}{}
	} else {
		delete(c.frozen, models.NormalizeName(playerName))
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status code: %d %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}
