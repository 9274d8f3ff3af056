// Package ura provides a client for the URA private residential
// transaction service.
package ura

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hartproperty/propsync/internal/resilience"
)

const (
	defaultBaseURL  = "https://eservice.ura.gov.sg/uraDataService/invokeUraDS/v1"
	defaultTokenURL = "https://eservice.ura.gov.sg/uraDataService/insertNewToken/v1"
	serviceName     = "PMI_Resi_Transaction"
	statusSuccess   = "Success"
)

// Client defines the URA data service operations.
type Client interface {
	// Token requests the daily access token.
	Token(ctx context.Context) (string, error)
	// Batch fetches one result batch. A batch the service reports as
	// unsuccessful comes back empty rather than as an error.
	Batch(ctx context.Context, token string, batch int) ([]Project, error)
}

// Text decodes a JSON string or number into a string.
type Text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(b)
	return nil
}

// Project groups the transactions of one development.
type Project struct {
	Project       string        `json:"project"`
	Street        string        `json:"street"`
	X             Text          `json:"x"`
	Y             Text          `json:"y"`
	MarketSegment string        `json:"marketSegment"`
	Transactions  []Transaction `json:"transaction"`
}

// Transaction is one caveat-lodged sale. Area is in square metres,
// FloorRange looks like "06 - 10" and ContractDate is MMYY.
type Transaction struct {
	Area         Text `json:"area"`
	FloorRange   Text `json:"floorRange"`
	NoOfUnits    Text `json:"noOfUnits"`
	ContractDate Text `json:"contractDate"`
	TypeOfSale   Text `json:"typeOfSale"`
	Price        Text `json:"price"`
	PropertyType Text `json:"propertyType"`
	District     Text `json:"district"`
	TypeOfArea   Text `json:"typeOfArea"`
	Tenure       Text `json:"tenure"`
	NettPrice    Text `json:"nettPrice"`
}

type envelope[T any] struct {
	Status  string `json:"Status"`
	Message string `json:"Message"`
	Result  T      `json:"Result"`
}

// Option configures the URA client.
type Option func(*httpClient)

// WithBaseURL sets the data service URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithTokenURL sets the token URL (for testing).
func WithTokenURL(u string) Option {
	return func(c *httpClient) { c.tokenURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps requests per second. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	accessKey string
	baseURL   string
	tokenURL  string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a URA client authenticated with accessKey.
func NewClient(accessKey string, opts ...Option) Client {
	c := &httpClient{
		accessKey: accessKey,
		baseURL:   defaultBaseURL,
		tokenURL:  defaultTokenURL,
		http:      &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Token(ctx context.Context) (string, error) {
	var env envelope[string]
	if err := c.get(ctx, c.tokenURL, "", &env); err != nil {
		return "", eris.Wrap(err, "ura: token")
	}
	if env.Status != statusSuccess || env.Result == "" {
		return "", eris.Errorf("ura: token request failed: %s %s", env.Status, env.Message)
	}
	return env.Result, nil
}

func (c *httpClient) Batch(ctx context.Context, token string, batch int) ([]Project, error) {
	reqURL := fmt.Sprintf("%s?service=%s&batch=%s", c.baseURL, serviceName, strconv.Itoa(batch))

	var env envelope[[]Project]
	if err := c.get(ctx, reqURL, token, &env); err != nil {
		return nil, eris.Wrapf(err, "ura: batch %d", batch)
	}
	if env.Status != statusSuccess {
		zap.L().Warn("ura: batch returned non-success status",
			zap.Int("batch", batch),
			zap.String("status", env.Status),
			zap.String("message", env.Message),
		)
		return nil, nil
	}
	return env.Result, nil
}

func (c *httpClient) get(ctx context.Context, reqURL, token string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("AccessKey", c.accessKey)
	req.Header.Set("User-Agent", "Mozilla/5.0 propsync")
	if token != "" {
		req.Header.Set("Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
