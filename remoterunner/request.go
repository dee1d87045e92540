package remoterunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tensorlake/sdk-go/internal/obs"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
	"github.com/tidwall/gjson"
)

// Output blocks until the request finishes: it opens an SSE stream on the
// request's progress path, waits for a RequestFinished event, then fetches
// the outcome metadata and (on success) the raw output bytes, decoding them
// with the application's output serializer. The manifest's return type
// hints (OutputTypeHintsBase64) are not consulted, so values decode to the
// serializer's generic Go types.
func (req *Request) Output(ctx context.Context) (any, error) {
	ctx, end := obs.StartSpan(ctx, "remoterunner.output")
	defer end()

	if err := req.client.awaitFinished(ctx, req.ID); err != nil {
		return nil, err
	}

	meta, err := req.client.requestMetadata(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if meta.Outcome == "pending" {
		return nil, &sdkerrors.RequestNotFinishedError{RequestID: req.ID}
	}
	if meta.Outcome == "failure" {
		return nil, sdkerrors.NewRequestError(meta.FailureMessage)
	}

	data, contentType, err := req.client.fetchOutput(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return decodeOutput(data, contentType, req.manifest.Entrypoint.OutputSerializer)
}

type requestMeta struct {
	Outcome        string
	FailureMessage string
}

// requestMetadata fetches GET .../requests/{rid} and extracts the outcome
// (pending / a failure object / a success marker string) with gjson, rather
// than a dedicated struct per event shape: gjson pulls fields out of
// ad hoc payloads without a full struct per event type.
func (c *Client) requestMetadata(ctx context.Context, requestID string) (requestMeta, error) {
	path := fmt.Sprintf("/v1/namespaces/%s/requests/%s", c.namespace, requestID)
	body, err := c.doRetrying(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return requestMeta{}, err
	}
	result := gjson.ParseBytes(body)
	outcome := result.Get("outcome").String()
	if outcome == "" {
		outcome = "pending"
	}
	return requestMeta{
		Outcome:        outcome,
		FailureMessage: result.Get("failure.message").String(),
	}, nil
}

func (c *Client) fetchOutput(ctx context.Context, requestID string) ([]byte, string, error) {
	path := fmt.Sprintf("/v1/namespaces/%s/requests/%s/output", c.namespace, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", err
	}
	c.setAuthHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", &sdkerrors.RemoteAPIError{Status: resp.StatusCode, Message: "fetching request output"}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// awaitFinished opens the SSE progress stream and blocks until a
// RequestFinished event arrives or ctx is cancelled.
func (c *Client) awaitFinished(ctx context.Context, requestID string) error {
	path := fmt.Sprintf("/v1/namespaces/%s/requests/%s/progress", c.namespace, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.setAuthHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &sdkerrors.RemoteAPIError{Status: resp.StatusCode, Message: "opening progress stream"}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event == "RequestFinished" || gjson.Get(data, "type").String() == "RequestFinished" {
				return nil
			}
			event, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil // stream closed without an explicit RequestFinished: caller's metadata fetch decides outcome
}

// decodeOutput decodes data as outputSerializer. When the manifest names no
// output serializer it returns the raw bytes as a serializer.File carrying
// contentType; contentType is not otherwise consulted.
func decodeOutput(data []byte, contentType, outputSerializer string) (any, error) {
	if outputSerializer == "" {
		return serializer.File{Data: data, ContentType: contentType}, nil
	}
	s, err := serializer.ByName(outputSerializer)
	if err != nil {
		return nil, err
	}
	v, err := s.Unmarshal(data, "")
	if err != nil {
		return nil, &sdkerrors.SerializationError{Serializer: outputSerializer, Cause: err}
	}
	return v, nil
}
