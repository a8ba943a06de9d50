// Package ankiconnect is a client for the AnkiConnect add-on's JSON API and
// maps protonotes onto Anki notes.
package ankiconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultURL is where AnkiConnect listens by default.
	DefaultURL     = "http://localhost:8765"
	apiVersion     = 6
	defaultTimeout = 10 * time.Second
)

var (
	// ErrConnection marks failures to reach AnkiConnect at all.
	ErrConnection = errors.New("ankiconnect unreachable")
	// ErrAPI marks errors reported by AnkiConnect in its response.
	ErrAPI = errors.New("ankiconnect api error")
)

// Config locates the AnkiConnect endpoint.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client issues AnkiConnect actions.
type Client struct {
	url  string
	http *http.Client
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout (10s by default).
func New(cfg Config, httpClient *http.Client) *Client {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{url: url, http: httpClient}
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// Invoke runs action with params and decodes the result into out when out is
// non-nil.
func (c *Client) Invoke(ctx context.Context, action string, params any, out any) error {
	body, err := json.Marshal(request{Action: action, Version: apiVersion, Params: params})
	if err != nil {
		return errors.Wrap(err, "marshal ankiconnect request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build ankiconnect request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s", action), ErrConnection)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Mark(errors.Newf("%s: unexpected status %d", action, resp.StatusCode), ErrConnection)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return errors.Wrapf(err, "decode %s response", action)
	}
	if decoded.Error != nil {
		return errors.Mark(errors.Newf("%s: %s", action, *decoded.Error), ErrAPI)
	}
	if out != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return errors.Wrapf(err, "decode %s result", action)
		}
	}
	return nil
}

// Version returns the AnkiConnect API version; useful as a reachability check.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v int
	if err := c.Invoke(ctx, "version", nil, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// AddNote creates note and returns its Anki ID.
func (c *Client) AddNote(ctx context.Context, note Note) (int64, error) {
	var id int64
	if err := c.Invoke(ctx, "addNote", map[string]any{"note": note}, &id); err != nil {
		return 0, err
	}
	return id, nil
}
