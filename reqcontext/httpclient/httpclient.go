// Package httpclient is the client half of the request context loopback
// protocol served by reqcontext/httpserver: a reqcontext.Context
// implementation for code running outside the process that owns the
// canonical in-memory context (an isolated function subprocess talking back
// to its parent).
package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tensorlake/sdk-go/reqcontext"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

const defaultTimeout = 5 * time.Second

// Context is a reqcontext.Context backed by HTTP calls to a
// reqcontext/httpserver.Server.
type Context struct {
	requestID string
	baseURL   string
	client    *http.Client
}

var _ reqcontext.Context = (*Context)(nil)

// New builds a Context that talks to baseURL (as returned by
// httpserver.Server.BaseURL) on behalf of requestID.
func New(requestID, baseURL string) *Context {
	return &Context{
		requestID: requestID,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Context) RequestID() string            { return c.requestID }
func (c *Context) State() reqcontext.State       { return &stateClient{c} }
func (c *Context) Progress() reqcontext.Progress { return &progressClient{c} }
func (c *Context) Metrics() reqcontext.Metrics   { return &metricsClient{c} }

func (c *Context) url(format string, args ...any) string {
	return c.baseURL + "/" + c.requestID + fmt.Sprintf(format, args...)
}

func (c *Context) doJSON(method, url string, body any) (*http.Response, error) {
	var reader bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reader).Encode(body); err != nil {
			return nil, sdkerrors.NewInternalError("httpclient: encoding request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &reader)
	if err != nil {
		return nil, sdkerrors.NewInternalError("httpclient: building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, sdkerrors.NewInternalError("httpclient: request to %s failed: %v", url, err)
	}
	return resp, nil
}

type stateClient struct{ c *Context }

func (s *stateClient) Get(key string) (any, bool, error) {
	resp, err := s.c.doJSON(http.MethodGet, s.c.url("/state/%s", key), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, sdkerrors.NewInternalError("httpclient: state get %q: status %d", key, resp.StatusCode)
	}
	var blob serializer.Blob
	if err := json.NewDecoder(resp.Body).Decode(&blob); err != nil {
		return nil, false, sdkerrors.NewInternalError("httpclient: decoding state response: %v", err)
	}
	codec, err := serializer.ByName(blob.SerializerName)
	if err != nil {
		return nil, false, err
	}
	v, err := codec.Unmarshal(blob.Data, blob.ClassHint)
	if err != nil {
		return nil, false, &sdkerrors.SerializationError{Serializer: blob.SerializerName, Cause: err}
	}
	return v, true, nil
}

func (s *stateClient) Set(key string, value any) error {
	codec, err := serializer.ByName(serializer.Binary)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return &sdkerrors.SerializationError{Serializer: serializer.Binary, Cause: err}
	}
	blob := serializer.Blob{
		Data:           data,
		SerializerName: serializer.Binary,
		ContentType:    codec.ContentType(),
		ClassHint:      serializer.ClassTokenOf(value),
	}

	resp, err := s.c.doJSON(http.MethodPut, s.c.url("/state/%s", key), blob)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return sdkerrors.NewInternalError("httpclient: state set %q: status %d", key, resp.StatusCode)
	}
	return nil
}

type progressClient struct{ c *Context }

func (p *progressClient) Update(current, total float64, message string, attributes map[string]string) error {
	resp, err := p.c.doJSON(http.MethodPost, p.c.url("/progress"), map[string]any{
		"current": current, "total": total, "message": message, "attributes": attributes,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return sdkerrors.NewInternalError("httpclient: progress update: status %d", resp.StatusCode)
	}
	return nil
}

type metricsClient struct{ c *Context }

func (m *metricsClient) Counter(name string, value int) {
	resp, err := m.c.doJSON(http.MethodPost, m.c.url("/metrics/counter/%s", name), map[string]any{"value": value})
	if err == nil {
		resp.Body.Close()
	}
}

func (m *metricsClient) Timer(name string, valueSeconds float64) {
	resp, err := m.c.doJSON(http.MethodPost, m.c.url("/metrics/timer/%s", name), map[string]any{"value": valueSeconds})
	if err == nil {
		resp.Body.Close()
	}
}
