// Package purchaseapi talks to the remote purchase API over HTTP with the
// user's cookie session.
package purchaseapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"

	"course-checkout/internal/config"
	"course-checkout/internal/domain/ports/adapter"
)

const refreshPath = "/api/auth/refresh"

// NewHTTPClient builds the resty client shared by the gateway and the refresher,
// so cookies renewed by a refresh are sent on the retried request.
func NewHTTPClient(cfg config.APIConfig, jar http.CookieJar) (*resty.Client, *url.URL, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid api base url: %w", err)
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetRetryCount(0)
	if jar != nil {
		c.SetCookieJar(jar)
	}
	return c, base, nil
}

var _ adapter.SessionRefresher = (*Refresher)(nil)

// Refresher renews the session via POST /api/auth/refresh. It never goes
// through the session gate itself.
type Refresher struct {
	http *resty.Client
}

func NewRefresher(c *resty.Client) *Refresher {
	return &Refresher{http: c}
}

func (r *Refresher) Refresh(ctx context.Context) error {
	resp, err := r.http.R().SetContext(ctx).Post(refreshPath)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("refresh rejected: http %d", resp.StatusCode())
	}
	return nil
}
