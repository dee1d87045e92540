package remoterunner

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tensorlake/sdk-go/manifest"
)

func encodeEntrypointArgs(t *testing.T, args []manifest.EntrypointArg) string {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSubmitAndOutputEndToEnd(t *testing.T) {
	inputsB64 := encodeEntrypointArgs(t, []manifest.EntrypointArg{{ArgName: "x"}})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/namespaces/ns/applications/app", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			app := manifest.Application{
				Name:    "app",
				Version: "1",
				Functions: map[string]manifest.FunctionManifest{
					"app": {Name: "app"},
				},
				Entrypoint: manifest.Entrypoint{
					FunctionName:     "app",
					InputSerializer:  "json",
					InputsBase64:     inputsB64,
					OutputSerializer: "json",
				},
			}
			require.NoError(t, json.NewEncoder(w).Encode(app))
		case http.MethodPost:
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
		}
	})
	mux.HandleFunc("/v1/namespaces/ns/requests/req-1/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: RequestFinished\ndata: {}\n\n")
	})
	mux.HandleFunc("/v1/namespaces/ns/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outcome":"success"}`))
	})
	mux.HandleFunc("/v1/namespaces/ns/requests/req-1/output", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`99`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "ns", "tok")
	req, err := c.Submit(t.Context(), "app", []any{7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.ID)

	out, err := req.Output(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 99, out)
}

func TestSubmitFailureOutcomeSurfacesRequestError(t *testing.T) {
	inputsB64 := encodeEntrypointArgs(t, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/namespaces/ns/applications/app", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			app := manifest.Application{
				Name: "app", Version: "1",
				Functions: map[string]manifest.FunctionManifest{"app": {Name: "app"}},
				Entrypoint: manifest.Entrypoint{
					FunctionName: "app", InputSerializer: "json", InputsBase64: inputsB64, OutputSerializer: "json",
				},
			}
			require.NoError(t, json.NewEncoder(w).Encode(app))
			return
		}
		_, _ = w.Write([]byte(`{"request_id":"req-2"}`))
	})
	mux.HandleFunc("/v1/namespaces/ns/requests/req-2/progress", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: RequestFinished\ndata: {}\n\n")
	})
	mux.HandleFunc("/v1/namespaces/ns/requests/req-2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outcome":"failure","failure":{"message":"boom"}}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "ns", "tok")
	req, err := c.Submit(t.Context(), "app", nil, nil)
	require.NoError(t, err)

	_, err = req.Output(t.Context())
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestManifestIsCachedAcrossSubmits(t *testing.T) {
	inputsB64 := encodeEntrypointArgs(t, nil)
	var manifestFetches int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/namespaces/ns/applications/app", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&manifestFetches, 1)
			app := manifest.Application{
				Name: "app", Version: "1",
				Functions: map[string]manifest.FunctionManifest{"app": {Name: "app"}},
				Entrypoint: manifest.Entrypoint{
					FunctionName: "app", InputSerializer: "json", InputsBase64: inputsB64,
				},
			}
			require.NoError(t, json.NewEncoder(w).Encode(app))
			return
		}
		_, _ = w.Write([]byte(`{"request_id":"req-3"}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "ns", "tok")
	_, err := c.Submit(t.Context(), "app", nil, nil)
	require.NoError(t, err)
	_, err = c.Submit(t.Context(), "app", nil, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&manifestFetches))
}

func TestDoRetryingRetriesOnRetryableStatus(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "ns", "tok")
	body, err := c.doRetrying(t.Context(), http.MethodGet, "/flaky", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoRetryingFailsFastOnNonRetryableStatus(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/unauthorized", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "ns", "tok")
	_, err := c.doRetrying(t.Context(), http.MethodGet, "/unauthorized", "", nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRetryBackoffCapsAt4Seconds(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, retryBackoff(1))
	assert.Equal(t, 500*time.Millisecond, retryBackoff(2))
	assert.LessOrEqual(t, retryBackoff(10), 4*time.Second)
}
