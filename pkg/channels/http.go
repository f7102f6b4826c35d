package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/config"
)

// HTTPAdapter is the shared adapter for the REST-backed channels (Instagram,
// Facebook, LinkedIn, X). One attempt per Send; the queue owns retries, so
// the client's own retry machinery stays off.
type HTTPAdapter struct {
	name   string
	cfg    config.HTTPChannelConfig
	client *resty.Client
}

const httpSendTimeout = 30 * time.Second

func NewHTTPAdapter(name string, cfg config.HTTPChannelConfig) *HTTPAdapter {
	client := resty.New().
		SetBaseURL(cfg.APIBase).
		SetTimeout(httpSendTimeout).
		SetRetryCount(0).
		SetAuthToken(cfg.APIToken)
	return &HTTPAdapter{name: name, cfg: cfg, client: client}
}

func (a *HTTPAdapter) Name() string { return a.name }

func (a *HTTPAdapter) Connected() bool {
	return a.cfg.Enabled && a.cfg.APIBase != "" && a.cfg.APIToken != ""
}

func (a *HTTPAdapter) Start(context.Context) error { return nil }

func (a *HTTPAdapter) Stop() error { return nil }

func (a *HTTPAdapter) Send(ctx context.Context, msg bus.OutboundMessage) (bus.Receipt, error) {
	if !a.Connected() {
		return bus.Receipt{}, apperr.Newf(apperr.KindSessionUnavailable, "%s channel is not configured", a.name)
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"recipient": msg.Recipient,
			"content":   msg.Content,
			"type":      msg.Type,
		}).
		SetResult(&out).
		Post("/messages")
	if err != nil {
		return bus.Receipt{}, apperr.Wrap(apperr.KindUpstream, fmt.Sprintf("%s send", a.name), err)
	}

	switch code := resp.StatusCode(); {
	case code == 429:
		return bus.Receipt{}, apperr.Newf(apperr.KindUpstream, "%s rate limited upstream", a.name)
	case code >= 500:
		return bus.Receipt{}, apperr.Newf(apperr.KindUpstream, "%s returned %d", a.name, code)
	case code >= 400:
		// The provider rejected the request itself; retrying cannot help.
		return bus.Receipt{}, apperr.Newf(apperr.KindValidation, "%s rejected message: %s", a.name, resp.String())
	}

	return bus.Receipt{ProviderID: out.MessageID, SentAt: time.Now()}, nil
}
