package importer

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/loykin/hookd/internal/webhook"
)

const DefaultSecretHeader = "X-Hookd-Secret"

// Forwarder is the executable attached to imported elements. It checks the
// element secret, optionally relays the request to Target and acknowledges.
type Forwarder struct {
	definition string
	version    int
	element    Element
	client     *http.Client
}

func newForwarder(d Definition, e Element, client *http.Client) *Forwarder {
	return &Forwarder{definition: d.ID, version: d.Version, element: e, client: client}
}

func (f *Forwarder) Type() string {
	if f.element.Type == "" {
		return "webhook"
	}
	return f.element.Type
}

func (f *Forwarder) Verify(_ context.Context, req *webhook.Request) error {
	if f.element.Secret == "" {
		return nil
	}
	header := f.element.SecretHeader
	if header == "" {
		header = DefaultSecretHeader
	}
	got := req.Header.Get(header)
	if subtle.ConstantTimeCompare([]byte(got), []byte(f.element.Secret)) != 1 {
		return errVerifyFailed(f.element.ID)
	}
	return nil
}

func (f *Forwarder) Trigger(ctx context.Context, req *webhook.Request) (*webhook.Response, error) {
	body := map[string]any{
		"accepted":   true,
		"definition": f.definition,
		"version":    f.version,
		"element":    f.element.ID,
		"request_id": req.ID,
	}
	if f.element.Target == "" {
		return &webhook.Response{Status: http.StatusAccepted, Body: body}, nil
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, f.element.Target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		out.Header.Set("Content-Type", ct)
	}
	out.Header.Set("X-Hookd-Request-Id", req.ID)
	out.Header.Set("X-Hookd-Definition", fmt.Sprintf("%s:%d", f.definition, f.version))
	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", f.element.Target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body["forward_status"] = resp.StatusCode
	if resp.StatusCode >= 300 {
		return &webhook.Response{Status: http.StatusBadGateway, Body: body}, nil
	}
	return &webhook.Response{Status: http.StatusAccepted, Body: body}, nil
}
