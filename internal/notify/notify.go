// Package notify delivers finished valuations by e-mail.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/hartproperty/propsync/internal/config"
	"github.com/hartproperty/propsync/internal/valuation"
)

// DefaultEndpoint is the Postmark single-message API.
const DefaultEndpoint = "https://api.postmarkapp.com/email"

// Email is one outgoing message.
type Email struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Nop discards notifications. It is used when no mail provider is set.
type Nop struct{}

// ValuationReady implements valuation.Notifier.
func (Nop) ValuationReady(context.Context, valuation.Request, *valuation.Result) error { return nil }

// Postmark sends valuation reports through the Postmark HTTP API. The
// requester gets the report; the CC address gets a lead copy.
type Postmark struct {
	cfg      config.NotifyConfig
	endpoint string
	client   *http.Client
}

// PostmarkOption configures a Postmark notifier.
type PostmarkOption func(*Postmark)

// WithEndpoint overrides the API URL.
func WithEndpoint(url string) PostmarkOption { return func(p *Postmark) { p.endpoint = url } }

// NewPostmark creates a Postmark notifier.
func NewPostmark(cfg config.NotifyConfig, opts ...PostmarkOption) *Postmark {
	p := &Postmark{
		cfg:      cfg,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// New returns a Postmark notifier when a token and sender are configured,
// else Nop.
func New(cfg config.NotifyConfig) valuation.Notifier {
	if cfg.PostmarkToken == "" || cfg.From == "" {
		zap.L().Warn("notify: postmark not configured, valuation e-mails disabled")
		return Nop{}
	}
	return NewPostmark(cfg)
}

// ValuationReady renders the report and sends it to the requester, then
// a lead copy to the CC address when one is set.
func (p *Postmark) ValuationReady(ctx context.Context, req valuation.Request, res *valuation.Result) error {
	if res == nil || res.Estimate == nil {
		return eris.New("notify: no estimate to send")
	}
	r, err := Render(req, res)
	if err != nil {
		return err
	}

	if err := p.Send(ctx, Email{
		From:     p.cfg.From,
		To:       req.Email,
		Subject:  r.Subject,
		HTMLBody: r.HTML,
		TextBody: r.Text,
	}); err != nil {
		return eris.Wrap(err, "notify: send to requester")
	}

	if p.cfg.CC != "" {
		from := req.Email
		if req.Name != "" {
			from += " (" + req.Name + ")"
		}
		if err := p.Send(ctx, Email{
			From:     p.cfg.From,
			To:       p.cfg.CC,
			Subject:  "[Valuation Lead] " + strings.TrimPrefix(r.Subject, "Property Valuation: ") + " - " + req.Email,
			HTMLBody: "<p><strong>New valuation request from:</strong> " + template.HTMLEscapeString(from) + "</p><hr>" + r.HTML,
			TextBody: "New valuation request from: " + from + "\n\n" + r.Text,
		}); err != nil {
			return eris.Wrap(err, "notify: send lead copy")
		}
	}

	zap.L().Info("notify: valuation sent",
		zap.String("condo", req.CondoName),
		zap.Bool("cc", p.cfg.CC != ""),
	)
	return nil
}

// Send posts one message.
func (p *Postmark) Send(ctx context.Context, e Email) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "notify: marshal email")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.cfg.PostmarkToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: postmark request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: postmark returned status %d", resp.StatusCode)
	}
	return nil
}

// Rendered is a report ready to send.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

var printer = message.NewPrinter(language.English)

// Price formats whole dollars with thousands separators: "$1,649,700".
func Price(v float64) string {
	return printer.Sprintf("$%d", int64(v+0.5))
}

type reportData struct {
	Greeting    string
	Condo       string
	Unit        string
	Floor       int
	Band        string
	Sqft        string
	Mid         string
	Low         string
	High        string
	Period      string
	Count       int
	Comparables []comparableRow
	Repayment   string
}

type comparableRow struct {
	Date  string
	Price string
	Floor string
	Sqft  string
	PSF   string
}

// Render builds the subject and bodies for a valuation report.
func Render(req valuation.Request, res *valuation.Result) (*Rendered, error) {
	est := res.Estimate
	d := reportData{
		Greeting: "Hello",
		Condo:    res.CondoName,
		Unit:     req.UnitLabel,
		Floor:    res.Floor,
		Band:     res.FloorBand.Label,
		Sqft:     printer.Sprintf("%d", int64(res.Sqft)),
		Mid:      Price(est.PriceMid),
		Low:      Price(est.PriceLow),
		High:     Price(est.PriceHigh),
		Period:   est.DataPeriod,
		Count:    len(est.Comparables),
	}
	if req.Name != "" {
		d.Greeting = "Dear " + req.Name
	}
	for _, c := range est.Comparables {
		d.Comparables = append(d.Comparables, comparableRow{
			Date:  c.SaleDate.Format("2006-01-02"),
			Price: Price(c.SalePrice),
			Floor: c.FloorRange,
			Sqft:  printer.Sprintf("%d", int64(c.Sqft)),
			PSF:   Price(c.PSF),
		})
	}
	if res.Repayment != nil {
		d.Repayment = Price(res.Repayment.Low) + " - " + Price(res.Repayment.High)
	}

	var html, text bytes.Buffer
	if err := htmlReport.Execute(&html, d); err != nil {
		return nil, eris.Wrap(err, "notify: render html")
	}
	if err := textReport.Execute(&text, d); err != nil {
		return nil, eris.Wrap(err, "notify: render text")
	}
	return &Rendered{
		Subject: "Property Valuation: " + res.CondoName + " " + req.UnitLabel,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

const disclaimer = "This is an automated estimate based on URA transaction data. " +
	"Actual value may vary based on unit condition, facing, renovations, and current market conditions."

var htmlReport = template.Must(template.New("report").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h1>Property Valuation Report</h1>
<p>{{.Greeting}},</p>
<p>Thank you for using Hart Property's free valuation tool. Here's your estimated valuation for:</p>
<h2>{{.Condo}}</h2>
<p>Unit: <strong>{{.Unit}}</strong> (Floor {{.Floor}}, Range: {{.Band}})<br>Size: <strong>{{.Sqft}} sqft</strong></p>
<h3>Estimated Value Range</h3>
<div style="font-size: 32px; font-weight: bold;">{{.Mid}}</div>
<div>Range: {{.Low}} - {{.High}}</div>
{{if .Repayment}}<p>Indicative monthly repayment (75% loan, 30 years): {{.Repayment}}</p>{{end}}
<h3>Recent Comparable Transactions</h3>
<p>Based on {{.Count}} similar transactions from {{.Period}}</p>
<table style="width: 100%; border-collapse: collapse;">
<thead><tr><th>Date</th><th>Price</th><th>Floor</th><th>Sqft</th><th>PSF</th></tr></thead>
<tbody>{{range .Comparables}}
<tr><td>{{.Date}}</td><td>{{.Price}}</td><td>{{.Floor}}</td><td>{{.Sqft}}</td><td>{{.PSF}}</td></tr>{{end}}
</tbody>
</table>
<p><strong>Disclaimer:</strong> ` + disclaimer + `</p>
<p>Best regards,<br><strong>Michael Hart</strong><br>Hart Property</p>
</div>
`))

var textReport = texttemplate.Must(texttemplate.New("report").Parse(`Property Valuation Report for {{.Condo}}

{{.Greeting}},

Thank you for using Hart Property's free valuation tool.

Unit: {{.Unit}} (Floor {{.Floor}}, {{.Sqft}} sqft)

ESTIMATED VALUE RANGE
Mid estimate: {{.Mid}}
Range: {{.Low}} - {{.High}}
{{if .Repayment}}Indicative monthly repayment (75% loan, 30 years): {{.Repayment}}
{{end}}
Based on {{.Count}} comparable transactions from {{.Period}}.

Disclaimer: ` + disclaimer + `

Best regards,
Michael Hart
Hart Property
`))
