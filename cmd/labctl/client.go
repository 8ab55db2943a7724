package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type clientOptions struct {
	BaseURL string
	APIKey  string
}

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newClient(opts *clientOptions) *client {
	return &client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		// Partner calls are paced server-side, so allow for queue wait.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// call sends one request and writes the indented JSON response to out. Non-2xx responses
// are printed too and reported as an error.
func (c *client) call(ctx context.Context, out io.Writer, method, path string, body interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("missing API key: set --api-key or LABCONNECT_API_KEY")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	fmt.Fprintln(out, pretty.String())

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
