package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/imhotep-client/internal/errors"
	"github.com/jrsteele09/imhotep-client/session"
)

var _ session.Refresher = (*Refresher)(nil)

// Refresher calls the token endpoint directly, bypassing Client so a 401
// from the refresh itself can never recurse into another refresh.
type Refresher struct {
	baseURL    string
	httpClient *http.Client
}

func NewRefresher(baseURL string, hc *http.Client) *Refresher {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Refresher{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (session.RefreshResult, error) {
	raw, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return session.RefreshResult{}, errors.Wrapf(err, "[apiclient Refresh] encode body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+RefreshPath, bytes.NewReader(raw))
	if err != nil {
		return session.RefreshResult{}, errors.Wrapf(err, "[apiclient Refresh] build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return session.RefreshResult{}, fmt.Errorf("[apiclient Refresh] %w: %w", errors.ErrRefreshFailed, err)
	}

	var result session.RefreshResult
	if err := decodeResponse(resp, &result); err != nil {
		return session.RefreshResult{}, fmt.Errorf("[apiclient Refresh] %w: %w", errors.ErrRefreshFailed, err)
	}
	return result, nil
}
