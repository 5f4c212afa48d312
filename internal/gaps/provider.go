// Package gaps resolves the analyst's missing-information requests.
// Each gap is classified by channel and dispatched to the matching
// provider; every resolved gap becomes a tier-6 source record.
package gaps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridian-search/reasoner/internal/circuitbreaker"
)

// Result is what a provider returns for one query.
type Result struct {
	Content     string
	Attribution string
	Title       string
}

// Provider fetches or synthesizes the content for one gap query.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, query string) (Result, error)
}

// httpProvider is the shared transport for the network-backed
// channels. Each channel supplies its own response parser.
type httpProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	parse   func(body []byte, query string) (Result, error)
}

func newHTTPProvider(name, baseURL, apiKey string, parse func([]byte, string) (Result, error)) *httpProvider {
	return &httpProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		breaker: circuitbreaker.New(name, circuitbreaker.Config{
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		}, nil),
		parse: parse,
	}
}

func (p *httpProvider) Name() string { return p.name }

func (p *httpProvider) Fetch(ctx context.Context, query string) (Result, error) {
	if p.baseURL == "" {
		return Result{}, fmt.Errorf("%s: no endpoint configured", p.name)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	var out Result
	err := p.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			p.baseURL+"?q="+url.QueryEscape(query), nil)
		if err != nil {
			return err
		}
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d", p.name, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		out, err = p.parse(body, query)
		return err
	})
	return out, err
}

// NewWebSearch returns the live web search provider. The response is
// a ranked result list; the top snippets are concatenated.
func NewWebSearch(baseURL, apiKey string) Provider {
	return newHTTPProvider("web_search", baseURL, apiKey, func(body []byte, query string) (Result, error) {
		var resp struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, fmt.Errorf("web_search: decode: %w", err)
		}
		if len(resp.Results) == 0 {
			return Result{}, fmt.Errorf("web_search: no results for %q", query)
		}
		var b strings.Builder
		n := len(resp.Results)
		if n > 3 {
			n = 3
		}
		for i := 0; i < n; i++ {
			r := resp.Results[i]
			fmt.Fprintf(&b, "%s: %s\n", r.Title, r.Snippet)
		}
		return Result{
			Content:     strings.TrimSpace(b.String()),
			Attribution: resp.Results[0].URL,
			Title:       resp.Results[0].Title,
		}, nil
	})
}

// NewStock returns the equities quote provider.
func NewStock(baseURL, apiKey string) Provider {
	return newHTTPProvider("stock", baseURL, apiKey, func(body []byte, query string) (Result, error) {
		var resp struct {
			Symbol   string  `json:"symbol"`
			Price    float64 `json:"price"`
			Currency string  `json:"currency"`
			Change   float64 `json:"change_percent"`
			AsOf     string  `json:"as_of"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, fmt.Errorf("stock: decode: %w", err)
		}
		if resp.Symbol == "" {
			return Result{}, fmt.Errorf("stock: no quote for %q", query)
		}
		return Result{
			Content: fmt.Sprintf("%s trades at %.2f %s (%+.2f%%) as of %s",
				resp.Symbol, resp.Price, resp.Currency, resp.Change, resp.AsOf),
			Attribution: "quote:" + resp.Symbol,
			Title:       resp.Symbol + " quote",
		}, nil
	})
}

// NewWeather returns the weather conditions provider.
func NewWeather(baseURL, apiKey string) Provider {
	return newHTTPProvider("weather", baseURL, apiKey, func(body []byte, query string) (Result, error) {
		var resp struct {
			Location   string  `json:"location"`
			TempC      float64 `json:"temp_c"`
			Conditions string  `json:"conditions"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, fmt.Errorf("weather: decode: %w", err)
		}
		if resp.Location == "" {
			return Result{}, fmt.Errorf("weather: no data for %q", query)
		}
		return Result{
			Content: fmt.Sprintf("%s: %.1f°C, %s",
				resp.Location, resp.TempC, resp.Conditions),
			Attribution: "weather:" + resp.Location,
			Title:       "Weather for " + resp.Location,
		}, nil
	})
}

// NewEncyclopedia returns the encyclopedic summary provider.
func NewEncyclopedia(baseURL, apiKey string) Provider {
	return newHTTPProvider("encyclopedia", baseURL, apiKey, func(body []byte, query string) (Result, error) {
		var resp struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			URL     string `json:"url"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, fmt.Errorf("encyclopedia: decode: %w", err)
		}
		if resp.Extract == "" {
			return Result{}, fmt.Errorf("encyclopedia: no article for %q", query)
		}
		return Result{Content: resp.Extract, Attribution: resp.URL, Title: resp.Title}, nil
	})
}

// NewCompany returns the corporate lookup provider.
func NewCompany(baseURL, apiKey string) Provider {
	return newHTTPProvider("company", baseURL, apiKey, func(body []byte, query string) (Result, error) {
		var resp struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Industry    string `json:"industry"`
			Website     string `json:"website"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, fmt.Errorf("company: decode: %w", err)
		}
		if resp.Name == "" {
			return Result{}, fmt.Errorf("company: no record for %q", query)
		}
		content := resp.Description
		if resp.Industry != "" {
			content = fmt.Sprintf("%s (%s): %s", resp.Name, resp.Industry, resp.Description)
		}
		return Result{Content: content, Attribution: resp.Website, Title: resp.Name}, nil
	})
}
