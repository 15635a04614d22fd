// Package httpplatform implements platform.AdPlatform against a generic
// REST reporting/bidding API, grounded on the teacher's provider HTTP
// clients (coinank, alpaca, twelvedata): a thin struct wrapping a base
// URL and API key, a shared *http.Client with a fixed timeout, and
// context-scoped requests.
package httpplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"adbudget/platform"
)

var sharedClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Platform is a REST-backed AdPlatform. BaseURL must expose:
//
//	GET  {BaseURL}/metrics?since=<rfc3339>   -> []metricDTO
//	POST {BaseURL}/bids/{armKey}             -> {"bid": <float>}
//	GET  {BaseURL}/arms                      -> []armDTO
//
// Real platforms (Google Ads, Meta Marketing API, TikTok Ads) each have
// their own shapes; a production deployment wraps this adapter per
// platform or swaps in a dedicated client, the same way the teacher has
// one trader implementation per exchange behind the shared Trader
// interface.
type Platform struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// New constructs an httpplatform.Platform for the named ad platform.
func New(name, baseURL, apiKey string) *Platform {
	return &Platform{name: name, baseURL: baseURL, apiKey: apiKey, client: sharedClient}
}

func (p *Platform) Name() string { return p.name }

type metricDTO struct {
	ArmKey      string    `json:"arm_key"`
	TS          time.Time `json:"ts"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	Cost        float64   `json:"cost"`
	Revenue     float64   `json:"revenue"`
}

func (p *Platform) FetchMetrics(ctx context.Context, since time.Time) ([]platform.MetricPoint, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	fullURL := fmt.Sprintf("%s/metrics?%s", p.baseURL, q.Encode())

	var dtos []metricDTO
	if err := p.doJSON(ctx, http.MethodGet, fullURL, nil, &dtos); err != nil {
		return nil, fmt.Errorf("%s: fetch metrics: %w", p.name, err)
	}

	out := make([]platform.MetricPoint, len(dtos))
	for i, d := range dtos {
		out[i] = platform.MetricPoint{
			ArmKey:      d.ArmKey,
			TS:          d.TS,
			Impressions: d.Impressions,
			Clicks:      d.Clicks,
			Conversions: d.Conversions,
			Cost:        d.Cost,
			Revenue:     d.Revenue,
		}
	}
	return out, nil
}

func (p *Platform) SetBid(ctx context.Context, armKey string, bid float64) error {
	fullURL := fmt.Sprintf("%s/bids/%s", p.baseURL, url.PathEscape(armKey))
	body := map[string]float64{"bid": bid}
	if err := p.doJSON(ctx, http.MethodPost, fullURL, body, nil); err != nil {
		return fmt.Errorf("%s: set bid for %s: %w", p.name, armKey, err)
	}
	return nil
}

type armDTO struct {
	ArmKey   string  `json:"arm_key"`
	Platform string  `json:"platform"`
	Channel  string  `json:"channel"`
	Creative string  `json:"creative"`
	Bid      float64 `json:"bid"`
	Active   bool    `json:"active"`
}

func (p *Platform) ListArms(ctx context.Context) ([]platform.RemoteArm, error) {
	fullURL := fmt.Sprintf("%s/arms", p.baseURL)
	var dtos []armDTO
	if err := p.doJSON(ctx, http.MethodGet, fullURL, nil, &dtos); err != nil {
		return nil, fmt.Errorf("%s: list arms: %w", p.name, err)
	}
	out := make([]platform.RemoteArm, len(dtos))
	for i, d := range dtos {
		out[i] = platform.RemoteArm{
			ArmKey: d.ArmKey, Platform: d.Platform, Channel: d.Channel,
			Creative: d.Creative, Bid: d.Bid, Active: d.Active,
		}
	}
	return out, nil
}

func (p *Platform) doJSON(ctx context.Context, method, fullURL string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}
	if respBody == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, respBody)
}
