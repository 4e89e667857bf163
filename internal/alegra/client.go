// Package alegra fetches pages of accounting records from the Alegra REST API.
package alegra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/BartekS5/optistock/internal/etl"
	"github.com/BartekS5/optistock/internal/failure"
)

const DefaultBaseURL = "https://api.alegra.com/api/v1"

// ErrMissingCredential is returned when no authorization header value is configured.
var ErrMissingCredential = errors.New("KEY_ALEGRA environment variable is not set")

type Config struct {
	BaseURL string
	// Authorization is sent verbatim as the authorization header.
	Authorization string
	Timeout       time.Duration
}

// Client implements etl.PageFetcher. Retries are left to the caller so the cursor
// stays under the extraction job's control.
type Client struct {
	http *resty.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Authorization == "" {
		return nil, failure.Auth("configure api client", ErrMissingCredential)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("accept", "application/json").
		SetHeader("authorization", cfg.Authorization)
	return &Client{http: client}, nil
}

func (c *Client) FetchPage(ctx context.Context, req etl.PageRequest) (*etl.RawPage, error) {
	params := make(map[string]string, len(req.Params)+2)
	for k, v := range req.Params {
		params[k] = v
	}
	params["start"] = strconv.Itoa(req.Start)
	if req.Limit > 0 {
		params["limit"] = strconv.Itoa(req.Limit)
	}
	op := fmt.Sprintf("GET %s start=%d", req.Endpoint, req.Start)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(req.Endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, failure.Transport(op, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, failure.Auth(op, statusError(resp))
	case code == http.StatusTooManyRequests || code >= 500:
		return nil, failure.Transport(op, statusError(resp))
	case code < 200 || code >= 300:
		return nil, failure.PermanentTransport(op, statusError(resp))
	}

	records, total, err := decodePage(resp.Body())
	if err != nil {
		return nil, failure.Transport(op, fmt.Errorf("failed to parse JSON response: %w", err))
	}
	return &etl.RawPage{Records: records, Total: total}, nil
}

func statusError(resp *resty.Response) error {
	body := bytes.TrimSpace(resp.Body())
	if len(body) > 256 {
		body = append(body[:256:256], "..."...)
	}
	if len(body) == 0 {
		return fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), body)
}

type envelope struct {
	Data     []etl.Record `json:"data"`
	Metadata struct {
		Total *int `json:"total"`
	} `json:"metadata"`
}

// decodePage accepts both a bare JSON array and the {"data": [...], "metadata": {...}}
// envelope the API returns when metadata=true.
func decodePage(body []byte) ([]etl.Record, int, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, -1, errors.New("empty response body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' || bytes.Equal(body, []byte("null")) {
		var records []etl.Record
		if err := dec.Decode(&records); err != nil {
			return nil, -1, err
		}
		return records, -1, nil
	}

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, -1, err
	}
	total := -1
	if env.Metadata.Total != nil {
		total = *env.Metadata.Total
	}
	return env.Data, total, nil
}
