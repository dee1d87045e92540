// Package remoterunner submits a request to the external scheduler and
// returns a remote future handle: same input/output shape as localrunner,
// but it never executes user code in-process. Manifests are
// fetched once per application name and cached for the life of the Client.
package remoterunner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/tensorlake/sdk-go/internal/obs"
	"github.com/tensorlake/sdk-go/manifest"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
	"golang.org/x/sync/errgroup"
)

// Client talks to one scheduler base URL on behalf of one namespace.
type Client struct {
	baseURL        string
	namespace      string
	token          string
	organizationID string
	projectID      string

	http *http.Client

	manifestsMu sync.Mutex
	manifests   map[string]*manifest.Application
}

// New builds a Client. token is sent as a bearer credential on every
// request.
func New(baseURL, namespace, token string) *Client {
	return &Client{
		baseURL:   baseURL,
		namespace: namespace,
		token:     token,
		http:      &http.Client{Timeout: 30 * time.Second},
		manifests: map[string]*manifest.Application{},
	}
}

// WithForwardedIDs sets the X-Forwarded-Organization-Id/X-Forwarded-Project-Id
// headers a personal-access-token credential is scoped to. It
// mutates and returns c for chaining after New.
func (c *Client) WithForwardedIDs(organizationID, projectID string) *Client {
	c.organizationID = organizationID
	c.projectID = projectID
	return c
}

// Request is a handle to one submitted invocation.
type Request struct {
	ID       string
	client   *Client
	appName  string
	manifest *manifest.Application
}

// Submit looks up appName's manifest (fetching and caching it if needed),
// serializes each argument with the manifest's declared input serializer,
// and POSTs a multipart request to the scheduler.
func (c *Client) Submit(ctx context.Context, appName string, args []any, kwargs map[string]any) (*Request, error) {
	ctx, end := obs.StartSpan(ctx, "remoterunner.submit")
	defer end()

	m, err := c.manifestFor(ctx, appName)
	if err != nil {
		return nil, err
	}

	entrypointArgs, err := decodeEntrypointArgs(m.Entrypoint.InputsBase64)
	if err != nil {
		return nil, err
	}

	s, err := serializer.ByName(m.Entrypoint.InputSerializer)
	if err != nil {
		return nil, err
	}

	parts, err := buildArgumentParts(entrypointArgs, args, kwargs, s)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeMultipart(parts)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/v1/namespaces/%s/applications/%s", c.namespace, appName)
	resp, err := c.doRetrying(ctx, http.MethodPost, path, contentType, body)
	if err != nil {
		return nil, err
	}

	var out struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, sdkerrors.NewInternalError("remoterunner: decoding submit response: %v", err)
	}

	return &Request{ID: out.RequestID, client: c, appName: appName, manifest: m}, nil
}

// manifestFor returns appName's cached manifest, fetching it from the
// scheduler on first use.
func (c *Client) manifestFor(ctx context.Context, appName string) (*manifest.Application, error) {
	c.manifestsMu.Lock()
	if m, ok := c.manifests[appName]; ok {
		c.manifestsMu.Unlock()
		return m, nil
	}
	c.manifestsMu.Unlock()

	path := fmt.Sprintf("/v1/namespaces/%s/applications/%s", c.namespace, appName)
	body, err := c.doRetrying(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}

	var m manifest.Application
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, sdkerrors.NewInternalError("remoterunner: decoding manifest for %q: %v", appName, err)
	}
	if err := m.ValidateSchemas(); err != nil {
		return nil, sdkerrors.NewInternalError("remoterunner: manifest for %q failed schema validation: %v", appName, err)
	}

	c.manifestsMu.Lock()
	c.manifests[appName] = &m
	c.manifestsMu.Unlock()
	return &m, nil
}

func decodeEntrypointArgs(b64 string) ([]manifest.EntrypointArg, error) {
	if b64 == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, sdkerrors.NewInternalError("remoterunner: decoding inputs_base64: %v", err)
	}
	var args []manifest.EntrypointArg
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, sdkerrors.NewInternalError("remoterunner: parsing entrypoint args: %v", err)
	}
	return args, nil
}

// argumentPart is one multipart field: an argument's name and its encoded
// body, ready to be written to the wire.
type argumentPart struct {
	name        string
	data        []byte
	contentType string
}

// buildArgumentParts serializes each positional arg (matched to declared
// entrypoint args by position) and each kwarg (matched by name) using s,
// except serializer.File values which are transported as raw bytes plus
// content type.
func buildArgumentParts(declared []manifest.EntrypointArg, args []any, kwargs map[string]any, s serializer.Serializer) ([]argumentPart, error) {
	nameFor := func(i int) string {
		if i < len(declared) {
			return declared[i].ArgName
		}
		return fmt.Sprintf("arg%d", i)
	}

	names := make([]string, 0, len(args)+len(kwargs))
	values := make([]any, 0, len(args)+len(kwargs))
	for i, v := range args {
		names = append(names, nameFor(i))
		values = append(values, v)
	}
	for k, v := range kwargs {
		names = append(names, k)
		values = append(values, v)
	}

	// Each argument serializes independently of the others, so the
	// per-argument encode work fans out since each argument's serialization
	// has no ordering dependency on the others.
	parts := make([]argumentPart, len(values))
	g, _ := errgroup.WithContext(context.Background())
	for i := range values {
		i := i
		g.Go(func() error {
			part, err := encodeArgument(names[i], values[i], s)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func encodeArgument(name string, v any, s serializer.Serializer) (argumentPart, error) {
	if f, ok := v.(serializer.File); ok {
		return argumentPart{name: name, data: f.Data, contentType: f.ContentType}, nil
	}
	data, err := s.Marshal(v)
	if err != nil {
		return argumentPart{}, &sdkerrors.SerializationError{Serializer: s.Name(), Cause: err}
	}
	return argumentPart{name: name, data: data, contentType: s.ContentType()}, nil
}

func encodeMultipart(parts []argumentPart) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		pw, err := w.CreatePart(map[string][]string{
			"Content-Disposition": {fmt.Sprintf(`form-data; name=%q`, p.name)},
			"Content-Type":        {p.contentType},
		})
		if err != nil {
			return nil, "", err
		}
		if _, err := pw.Write(p.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// doRetrying issues one HTTP request, retrying on the statuses and
// transport errors this treats as retryable (502/503/504 and any transport
// error), up to 4 attempts. Between attempts it sleeps retryBackoff: 250ms
// doubling per attempt, capped at 4s, with no jitter.
func (c *Client) doRetrying(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		respBody, status, err := c.doOnce(ctx, method, path, contentType, body)
		if err == nil && status < 400 {
			return respBody, nil
		}
		if err != nil {
			lastErr = err
		} else {
			apiErr := &sdkerrors.RemoteAPIError{Status: status, Message: string(respBody)}
			if !apiErr.Retryable() {
				return nil, apiErr
			}
			lastErr = apiErr
		}
		if attempt < maxAttempts {
			time.Sleep(retryBackoff(attempt))
		}
	}
	return nil, lastErr
}

// setAuthHeaders attaches the bearer token and, for a PAT-scoped
// credential, the organization/project forwarding headers.
func (c *Client) setAuthHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.organizationID != "" {
		req.Header.Set("X-Forwarded-Organization-Id", c.organizationID)
	}
	if c.projectID != "" {
		req.Header.Set("X-Forwarded-Project-Id", c.projectID)
	}
}

func (c *Client) doOnce(ctx context.Context, method, path, contentType string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.setAuthHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

func retryBackoff(attempt int) time.Duration {
	ms := 250 * (1 << uint(attempt-1))
	if ms > 4000 {
		ms = 4000
	}
	return time.Duration(ms) * time.Millisecond
}
