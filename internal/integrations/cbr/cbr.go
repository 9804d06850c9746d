package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/config"
)

var hundred = decimal.NewFromInt(100)

// KeyRate is a published central bank key rate
type KeyRate struct {
	Date       time.Time       `json:"date"`
	Percent    decimal.Decimal `json:"percent"`
	Bps        int64           `json:"bps"`
	MarginBps  int64           `json:"margin_bps"`
	OfferedBps int64           `json:"offered_bps"`
}

// CBRClient fetches the key rate from the Central Bank of Russia. The rate
// is a reference for pricing new notes; registered schedules never change.
type CBRClient struct {
	url       string
	marginBps int64
	client    *http.Client
	log       *logrus.Logger
	now       func() time.Time
}

// NewCBRClient initializes a new CBR client
func NewCBRClient(cfg *config.Config, log *logrus.Logger) *CBRClient {
	return &CBRClient{
		url:       cfg.CBRURL,
		marginBps: cfg.RateMarginBps,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

// buildSOAPRequest creates a SOAP request for the last 30 days of key rates
func (c *CBRClient) buildSOAPRequest() string {
	now := c.now()
	fromDate := now.AddDate(0, 0, -30).Format("2006-01-02")
	toDate := now.Format("2006-01-02")
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<KeyRate xmlns="http://web.cbr.ru/">
					<fromDate>%s</fromDate>
					<ToDate>%s</ToDate>
				</KeyRate>
			</soap12:Body>
		</soap12:Envelope>`, fromDate, toDate)
}

func (c *CBRClient) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debugf("CBR XML response: %s", string(body))
	return body, nil
}

// parseXMLResponse extracts the most recent key rate
func parseXMLResponse(rawBody []byte) (time.Time, decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return time.Time{}, decimal.Zero, fmt.Errorf("failed to parse XML: %w", err)
	}

	krElements := doc.FindElements("//diffgram/KeyRate/KR")
	if len(krElements) == 0 {
		return time.Time{}, decimal.Zero, fmt.Errorf("no key rate data found in XML")
	}

	// the service lists the latest rate first
	latest := krElements[0]
	rateElement := latest.FindElement("./Rate")
	if rateElement == nil {
		return time.Time{}, decimal.Zero, fmt.Errorf("rate element not found in XML")
	}
	rate, err := decimal.NewFromString(rateElement.Text())
	if err != nil {
		return time.Time{}, decimal.Zero, fmt.Errorf("failed to parse rate %q: %w", rateElement.Text(), err)
	}

	var date time.Time
	if el := latest.FindElement("./DT"); el != nil {
		if d, err := time.Parse(time.RFC3339, el.Text()); err == nil {
			date = d
		}
	}
	return date, rate, nil
}

// GetKeyRate retrieves the current key rate and adds the configured margin
func (c *CBRClient) GetKeyRate(ctx context.Context) (*KeyRate, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest())
	if err != nil {
		return nil, err
	}

	date, pct, err := parseXMLResponse(body)
	if err != nil {
		return nil, err
	}

	bps := pct.Mul(hundred).Round(0).IntPart()
	kr := &KeyRate{
		Date:       date,
		Percent:    pct,
		Bps:        bps,
		MarginBps:  c.marginBps,
		OfferedBps: bps + c.marginBps,
	}
	c.log.Infof("Retrieved key rate: %s%% (offered %d bps including %d bps margin)", pct.String(), kr.OfferedBps, c.marginBps)
	return kr, nil
}
