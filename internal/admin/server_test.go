package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/blueberry"
	"github.com/GoCodeAlone/blueberry/extension"
	"github.com/GoCodeAlone/blueberry/internal/apps"
	"github.com/GoCodeAlone/blueberry/metrics"
	"github.com/GoCodeAlone/blueberry/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parkedID = "test.parked"

type parkedApp struct {
	once sync.Once
	done chan struct{}
}

func (p *parkedApp) Start(_ context.Context, appCtx blueberry.ApplicationContext) (any, error) {
	appCtx.ApplicationRunning()
	<-p.done
	return "parked", nil
}

func (p *parkedApp) Stop() { p.once.Do(func() { close(p.done) }) }

func newTestServer(t *testing.T, withMetrics bool) *httptest.Server {
	t.Helper()
	exts := extension.NewRegistry()
	exts.AddExtensionPoint(blueberry.PointApplications)
	exts.AddExtensionPoint(blueberry.PointProducts)
	require.NoError(t, blueberry.RegisterErrorApplication(exts))
	for class, f := range apps.Factories(io.Discard) {
		exts.RegisterFactory(class, f)
	}
	for _, ext := range apps.Extensions() {
		require.NoError(t, exts.AddExtension(ext))
	}
	exts.RegisterFactory("test.Parked", func() (any, error) { return &parkedApp{done: make(chan struct{})}, nil })
	require.NoError(t, exts.AddExtension(&extension.Extension{
		UniqueID: parkedID,
		PointID:  blueberry.PointApplications,
		Elements: []*extension.ConfigurationElement{{
			Name:       "application",
			Attributes: map[string]string{"thread": "any", "cardinality": "singleton-scoped"},
			Children: []*extension.ConfigurationElement{{
				Name:       "run",
				Attributes: map[string]string{"class": "test.Parked"},
			}},
		}},
	}))

	opts := []blueberry.ContainerOption{
		blueberry.WithProperties(map[string]string{blueberry.PropLaunchDefault: "false"}),
	}
	var srv *Server
	if withMetrics {
		m := metrics.New()
		opts = append(opts, blueberry.WithMetrics(m))
		container := blueberry.NewApplicationContainer(registry.NewRegistry(), exts, opts...)
		srv = New(container, m.Registry(), nil)
	} else {
		srv = New(blueberry.NewApplicationContainer(registry.NewRegistry(), exts, opts...), nil, nil)
	}
	require.NoError(t, srv.container.Start(context.Background()))
	t.Cleanup(func() { _ = srv.container.Stop(context.Background()) })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_ListApps(t *testing.T) {
	ts := newTestServer(t, false)

	resp := do(t, http.MethodGet, ts.URL+"/apps", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	views := decode[[]appView](t, resp)
	byID := map[string]appView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	require.Contains(t, byID, apps.HelloID)
	require.Contains(t, byID, apps.ConsoleID)
	require.Contains(t, byID, blueberry.ErrorApplicationID)
	assert.Equal(t, "any", byID[apps.HelloID].Thread)
	assert.Equal(t, "*", byID[apps.HelloID].Cardinality)
	assert.True(t, byID[apps.HelloID].Launchable)
	assert.Equal(t, "main", byID[apps.ConsoleID].Thread)
	assert.Equal(t, "singleton-global", byID[apps.ConsoleID].Cardinality)
}

func TestServer_LaunchAndCollectResult(t *testing.T) {
	ts := newTestServer(t, false)

	resp := do(t, http.MethodPost, ts.URL+"/apps/"+apps.HelloID+"/launch", `{"args":["Ada"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	view := decode[handleView](t, resp)
	assert.Equal(t, apps.HelloID, view.Application)
	assert.False(t, view.Default)

	resp = do(t, http.MethodGet, ts.URL+"/handles/"+view.Instance+"/exit?timeout=2s", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exit := decode[exitView](t, resp)
	assert.True(t, exit.Available)
	assert.Equal(t, "Hello, Ada!", exit.Value)
	assert.Empty(t, exit.Error)

	resp = do(t, http.MethodGet, ts.URL+"/handles/"+view.Instance, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "finished instances launched here stay visible")
	assert.Equal(t, "stopped", decode[handleView](t, resp).State)
}

func TestServer_LaunchErrors(t *testing.T) {
	ts := newTestServer(t, false)

	resp := do(t, http.MethodPost, ts.URL+"/apps/unknown.app/launch", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "unknown.app")

	resp = do(t, http.MethodPost, ts.URL+"/apps/"+apps.HelloID+"/launch", `{"args":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/apps/"+parkedID+"/launch", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = do(t, http.MethodPost, ts.URL+"/apps/"+parkedID+"/launch", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_HandlesAndDestroy(t *testing.T) {
	ts := newTestServer(t, false)

	resp := do(t, http.MethodPost, ts.URL+"/apps/"+parkedID+"/launch", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	instance := decode[handleView](t, resp).Instance

	require.Eventually(t, func() bool {
		resp := do(t, http.MethodGet, ts.URL+"/handles", "")
		for _, v := range decode[[]handleView](t, resp) {
			if v.Instance == instance && v.State == "running" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	resp = do(t, http.MethodGet, ts.URL+"/handles/"+instance+"/exit?timeout=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/handles/"+instance+"/exit?timeout=10ms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exit := decode[exitView](t, resp)
	assert.False(t, exit.Available)
	assert.NotEmpty(t, exit.Error)

	resp = do(t, http.MethodDelete, ts.URL+"/handles/"+instance, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		return do(t, http.MethodDelete, ts.URL+"/handles/"+instance, "").StatusCode == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)

	resp = do(t, http.MethodGet, ts.URL+"/handles/missing.0", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/handles/missing.0/exit", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, true)

	resp := do(t, http.MethodPost, ts.URL+"/apps/"+apps.HelloID+"/launch", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "blueberry_launches_total")
	assert.Contains(t, string(body), "blueberry_descriptors")

	plain := newTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, plain.URL+"/metrics", "").StatusCode)
}

func TestLaunchStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", blueberry.ErrApplicationNotLaunchable), http.StatusConflict},
		{blueberry.ErrIllegalState, http.StatusConflict},
		{blueberry.ErrInvalidArgument, http.StatusBadRequest},
		{blueberry.ErrApplicationInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, launchStatus(tt.err))
		})
	}
}
