// Package propnex provides a client for the PropNex investment-suite
// project analysis endpoint.
package propnex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/hartproperty/propsync/internal/resilience"
)

const (
	defaultBaseURL = "https://investment-production.propnex.net/v1"
	userAgent      = "InvestmentSuite2/3.3.23 (com.propNex.InvestorSuite; build:371; iOS 18.7.0) Alamofire/5.9.0"

	// fatalMarker is the framework error page the API serves during an outage.
	fatalMarker = "Slim Application Error"
)

// Client defines the PropNex operations.
type Client interface {
	// Project returns the analysis payload for one project id.
	Project(ctx context.Context, projectID int) (*ProjectResponse, error)
}

// Sale is one row of the sales, profitSales or lossSales lists.
type Sale struct {
	SaleID                 Scalar `json:"saleId"`
	SaleProjectName        Scalar `json:"saleProjectName"`
	SaleProjectNameDisplay Scalar `json:"saleProjectNameDisplay"`
	SaleDate               Scalar `json:"saleDate"`
	SalePrice              Scalar `json:"salePrice"`
	SaleProfit             Scalar `json:"saleProfit"`
	SaleReturnAnnualized   Scalar `json:"saleReturnAnnualized"`
	SaleHoldingDays        Scalar `json:"saleHoldingDays"`
	SaleAreaSqft           Scalar `json:"saleAreaSqft"`
	SaleFloor              Scalar `json:"saleFloor"`
	SaleUnitNum            Scalar `json:"saleUnitNum"`
	UnitType               Scalar `json:"unitType"`
	SaleType               Scalar `json:"saleType"`
	TypeName               Scalar `json:"typeName"`
	SaleSubtype            Scalar `json:"saleSubtype"`
	TowerFloor             Scalar `json:"towerFloor"`
	TowerUnitNum           Scalar `json:"towerUnitNum"`
	TowerAreaSqft          Scalar `json:"towerAreaSqft"`
	PurchaseDate           Scalar `json:"purchaseDate"`
	PurchasePrice          Scalar `json:"purchasePrice"`
}

// Rental is one rental contract.
type Rental struct {
	RentalID                 Scalar `json:"rentalId"`
	ProjectID                Scalar `json:"projectId"`
	RentalProjectName        Scalar `json:"rentalProjectName"`
	RentalProjectNameDisplay Scalar `json:"rentalProjectNameDisplay"`
	RentalStreetDisplay      Scalar `json:"rentalStreetDisplay"`
	RentalLeaseDate          Scalar `json:"rentalLeaseDate"`
	RentalPropertyType       Scalar `json:"rentalPropertyType"`
	RentalAreaSqftMin        Scalar `json:"rentalAreaSqftMin"`
	RentalAreaSqftMax        Scalar `json:"rentalAreaSqftMax"`
	RentalRent               Scalar `json:"rentalRent"`
	RentalPsf                Scalar `json:"rentalPsf"`
	RentalBedroom            Scalar `json:"rentalBedroom"`
}

// ProjectResponse is the analysis payload: project metadata plus the
// categorized sale lists and rentals.
type ProjectResponse struct {
	ProjectID             Scalar `json:"projectId"`
	DistrictID            Scalar `json:"districtId"`
	ProjectName           Scalar `json:"projectName"`
	ProjectNameDisplay    Scalar `json:"projectNameDisplay"`
	ProjectDeveloper      Scalar `json:"projectDeveloper"`
	ProjectLatitude       Scalar `json:"projectLatitude"`
	ProjectLongitude      Scalar `json:"projectLongitude"`
	ProjectStreetDisplay  Scalar `json:"projectStreetDisplay"`
	ProjectRegion         Scalar `json:"projectRegion"`
	ProjectNumUnits       Scalar `json:"projectNumUnits"`
	ProjectTenureFrom     Scalar `json:"projectTenureFrom"`
	ProjectMaxFloorLvl    Scalar `json:"projectMaxFloorLvl"`
	ProjectCompletionYear Scalar `json:"projectCompletionYear"`

	Sales       []Sale   `json:"sales"`
	ProfitSales []Sale   `json:"profitSales"`
	LossSales   []Sale   `json:"lossSales"`
	Rentals     []Rental `json:"rentals"`
}

// Option configures the PropNex client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
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

// WithLookback sets how many years of history to request.
func WithLookback(years int) Option {
	return func(c *httpClient) {
		if years > 0 {
			c.lookbackYears = years
		}
	}
}

// WithClock overrides the clock used for the date range (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *httpClient) { c.now = now }
}

type httpClient struct {
	token         string
	baseURL       string
	lookbackYears int
	http          *http.Client
	limiter       *rate.Limiter
	now           func() time.Time
}

// NewClient creates a PropNex client using bearer token auth.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:         token,
		baseURL:       defaultBaseURL,
		lookbackYears: 10,
		http:          &http.Client{Timeout: 60 * time.Second},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Project(ctx context.Context, projectID int) (*ProjectResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "propnex: rate limiter")
		}
	}

	end := c.now().UTC()
	start := end.AddDate(-c.lookbackYears, 0, 0)
	form := url.Values{
		"dateRangeType": {fmt.Sprintf("%dY", c.lookbackYears)},
		"distance":      {"0"},
		"endDate":       {end.Format("2006-01-02")},
		"soreal":        {"0"},
		"startDate":     {start.Format("2006-01-02")},
	}

	reqURL := fmt.Sprintf("%s/analysis/project/%d", c.baseURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "propnex: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-SG;q=1.0, zh-Hans-SG;q=0.9")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "propnex: project %d", projectID)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "propnex: project %d: read body", projectID)
	}

	// The outage page can arrive with any status, so check it first.
	if bytes.Contains(body, []byte(fatalMarker)) {
		return nil, resilience.NewFatalError("propnex", eris.Errorf("%s for project %d", fatalMarker, projectID))
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("propnex: project %d: unexpected status %d", projectID, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var out ProjectResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrapf(err, "propnex: project %d: non-JSON response", projectID)
	}
	return &out, nil
}
