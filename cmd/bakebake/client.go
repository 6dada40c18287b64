package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/bakebake-xr/bakebake/internal/config"
)

type apiClient struct {
	http *resty.Client
}

// newAPIClient targets the server described by the local config. Tests swap
// it for a client pointed at an httptest server.
var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// Generation may run through every credential before answering.
	timeout := cfg.Generation.RequestTimeout + 10*time.Second
	return newClientFor("http://"+cfg.Server.Addr(), timeout), nil
}

func newClientFor(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func (c *apiClient) get(ctx context.Context, path string, out any) (*resty.Response, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	return c.finish(resp, err, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) (*resty.Response, error) {
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	return c.finish(resp, err, out)
}

func (c *apiClient) finish(resp *resty.Response, err error, out any) (*resty.Response, error) {
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is bakebake running? (%w)", err)
	}
	if resp.IsError() {
		body := resp.Body()
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return resp, fmt.Errorf("server returned %d: %s", resp.StatusCode(), msg.String())
		}
		return resp, fmt.Errorf("server returned %d: %s", resp.StatusCode(), string(body))
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp, nil
}
