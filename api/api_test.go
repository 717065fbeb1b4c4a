package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"explorviz/config"
	"explorviz/core"
	"explorviz/storage"
	"explorviz/util/goroutine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockLandscapeReader struct {
	ping         func(ctx context.Context) error
	timestamps   func(ctx context.Context, token string) ([]core.Timestamp, error)
	structure    func(ctx context.Context, token string) ([]core.Application, error)
	repositories func(ctx context.Context, token string) ([]string, error)
	latestCommit func(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error)
	applications func(ctx context.Context, token string) ([]string, error)
	commitTree   func(ctx context.Context, token, application string) (*core.CommitTree, error)
}

func (m *mockLandscapeReader) Ping(ctx context.Context) error {
	if m.ping != nil {
		return m.ping(ctx)
	}
	return nil
}

func (m *mockLandscapeReader) Timestamps(ctx context.Context, token string) ([]core.Timestamp, error) {
	if m.timestamps != nil {
		return m.timestamps(ctx, token)
	}
	return []core.Timestamp{}, nil
}

func (m *mockLandscapeReader) Structure(ctx context.Context, token string) ([]core.Application, error) {
	if m.structure != nil {
		return m.structure(ctx, token)
	}
	return []core.Application{}, nil
}

func (m *mockLandscapeReader) Repositories(ctx context.Context, token string) ([]string, error) {
	if m.repositories != nil {
		return m.repositories(ctx, token)
	}
	return []string{}, nil
}

func (m *mockLandscapeReader) LatestCommit(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error) {
	if m.latestCommit != nil {
		return m.latestCommit(ctx, token, repository, branch)
	}
	return nil, storage.ErrCommitNotFound
}

func (m *mockLandscapeReader) StaticApplications(ctx context.Context, token string) ([]string, error) {
	if m.applications != nil {
		return m.applications(ctx, token)
	}
	return []string{}, nil
}

func (m *mockLandscapeReader) CommitTree(ctx context.Context, token, application string) (*core.CommitTree, error) {
	if m.commitTree != nil {
		return m.commitTree(ctx, token, application)
	}
	return nil, storage.ErrApplicationNotFound
}

func testRESTConfig() config.RESTConfig {
	return config.RESTConfig{
		Enabled:           true,
		Host:              "127.0.0.1",
		Port:              0,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newTestAPI(t *testing.T, store LandscapeReader) *API {
	t.Helper()
	return NewAPI(store, testRESTConfig(), nil, zaptest.NewLogger(t).Sugar())
}

func serve(a *API, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRoutes_Table(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{})

	var paths []string
	for _, route := range a.Routes() {
		assert.Equal(t, http.MethodGet, route.Method)
		assert.NotNil(t, route.Handler)
		paths = append(paths, route.Path)
	}
	assert.ElementsMatch(t, []string{
		"/health",
		"/metrics",
		"/v2/landscapes/{token}/timestamps",
		"/v2/landscapes/{token}/structure",
		"/v2/landscapes/{token}/repositories",
		"/v2/landscapes/{token}/commits/{repository}/{branch}/latest",
		"/{token}/commits/{repository}/{branch}/latest",
		"/v2/code/applications/{token}",
		"/v2/code/commit-tree/{token}/{application}",
		"/swagger/",
	}, paths)
}

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{})

	rr := serve(a, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestHealthCheck_StoreDown(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{
		ping: func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rr := serve(a, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{})

	rr := serve(a, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestGetTimestamps(t *testing.T) {
	var gotToken string
	a := newTestAPI(t, &mockLandscapeReader{
		timestamps: func(ctx context.Context, token string) ([]core.Timestamp, error) {
			gotToken = token
			return []core.Timestamp{{EpochNano: 1000, SpanCount: 3}, {EpochNano: 2000, SpanCount: 1}}, nil
		},
	})

	rr := serve(a, http.MethodGet, "/v2/landscapes/mytoken/timestamps")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "mytoken", gotToken)
	assert.JSONEq(t, `[{"epochNano":1000,"spanCount":3},{"epochNano":2000,"spanCount":1}]`, rr.Body.String())
}

func TestGetTimestamps_EmptyLandscapeFallsBackToNow(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{})
	fixed := time.Unix(1700000000, 0)
	a.now = func() time.Time { return fixed }

	rr := serve(a, http.MethodGet, "/v2/landscapes/empty/timestamps")
	require.Equal(t, http.StatusOK, rr.Code)

	var got []core.Timestamp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, []core.Timestamp{{EpochNano: fixed.UnixNano(), SpanCount: 0}}, got)
}

func TestGetStructure(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{
		structure: func(ctx context.Context, token string) ([]core.Application, error) {
			return []core.Application{{Name: "petclinic", Functions: []core.Function{core.NewFunction("a.B.c")}}}, nil
		},
	})

	rr := serve(a, http.MethodGet, "/v2/landscapes/tok/structure")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"landscapeToken":"tok","applications":[{"name":"petclinic","functions":[{"fqn":"a.B.c","name":"c"}]}]}`, rr.Body.String())
}

func TestGetRepositories(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{
		repositories: func(ctx context.Context, token string) ([]string, error) {
			return []string{"petclinic", "shop"}, nil
		},
	})

	rr := serve(a, http.MethodGet, "/v2/landscapes/tok/repositories")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["petclinic","shop"]`, rr.Body.String())
}

func TestGetLatestCommit(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAPI(t, &mockLandscapeReader{
		latestCommit: func(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error) {
			if token == "tok" && repository == "petclinic" && branch == "main" {
				return &core.CommitSummary{Hash: "c1", BranchName: "main", CommitDate: date, AuthorDate: date, Tags: []string{"v1"}}, nil
			}
			return nil, storage.ErrCommitNotFound
		},
	})

	rr := serve(a, http.MethodGet, "/v2/landscapes/tok/commits/petclinic/main/latest")
	require.Equal(t, http.StatusOK, rr.Code)

	var got core.CommitSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "c1", got.Hash)
	assert.Equal(t, []string{"v1"}, got.Tags)

	rr = serve(a, http.MethodGet, "/v2/landscapes/tok/commits/petclinic/develop/latest")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"no fully persisted commit found"}`, rr.Body.String())
}

func TestGetLatestCommit_LegacyPath(t *testing.T) {
	var got []string
	a := newTestAPI(t, &mockLandscapeReader{
		latestCommit: func(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error) {
			got = []string{token, repository, branch}
			return &core.CommitSummary{Hash: "c1", BranchName: branch}, nil
		},
	})

	rr := serve(a, http.MethodGet, "/tok/commits/petclinic/main/latest")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"tok", "petclinic", "main"}, got)
}

func TestGetStaticApplications(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{
		applications: func(ctx context.Context, token string) ([]string, error) {
			return []string{"petclinic"}, nil
		},
	})

	rr := serve(a, http.MethodGet, "/v2/code/applications/tok")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["petclinic"]`, rr.Body.String())
}

func TestGetCommitTree(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{
		commitTree: func(ctx context.Context, token, application string) (*core.CommitTree, error) {
			if application != "petclinic" {
				return nil, storage.ErrApplicationNotFound
			}
			return &core.CommitTree{Name: application, Branches: []core.BranchTree{
				{Name: "main", Commits: []string{"m1", "m2"}, BranchPoint: core.NoBranchPoint},
				{Name: "feature", Commits: []string{"f1"}, BranchPoint: core.BranchPoint{Name: "main", CommitID: "m1"}},
			}}, nil
		},
	})

	rr := serve(a, http.MethodGet, "/v2/code/commit-tree/tok/petclinic")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"name":"petclinic","branches":[
		{"name":"main","commits":["m1","m2"],"branchPoint":{"name":"NONE","commitId":""}},
		{"name":"feature","commits":["f1"],"branchPoint":{"name":"main","commitId":"m1"}}]}`, rr.Body.String())

	rr = serve(a, http.MethodGet, "/v2/code/commit-tree/tok/shop")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"application not found"}`, rr.Body.String())
}

func TestSwaggerUI(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{})

	rr := serve(a, http.MethodGet, "/swagger/doc.json")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v2/landscapes/{token}/structure")

	rr = serve(a, http.MethodGet, "/swagger/index.html")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStoreErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"closed store", storage.ErrStoreClosed, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"query failure", errors.New("syntax error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t, &mockLandscapeReader{
				repositories: func(ctx context.Context, token string) ([]string, error) { return nil, tt.err },
			})
			rr := serve(a, http.MethodGet, "/v2/landscapes/tok/repositories")
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.NotContains(t, rr.Body.String(), "syntax error")
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{})

	rr := serve(a, http.MethodGet, "/v1/nothing")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(a, http.MethodPost, "/health")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestListenServeStop(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	a := newTestAPI(t, &mockLandscapeReader{})
	require.NoError(t, a.Listen())
	require.NotEmpty(t, a.Addr())

	served := make(chan error, 1)
	go func() { served <- a.Serve() }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + a.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, <-served)

	_, err = client.Get("http://" + a.Addr() + "/health")
	assert.Error(t, err)
}

func TestListen_AddressInUse(t *testing.T) {
	first := newTestAPI(t, &mockLandscapeReader{})
	require.NoError(t, first.Listen())
	defer first.Stop(context.Background())

	cfg := testRESTConfig()
	cfg.Port = portOf(t, first.Addr())

	second := NewAPI(&mockLandscapeReader{}, cfg, nil, zaptest.NewLogger(t).Sugar())
	assert.Error(t, second.Listen())
}

func TestStop_DrainsInFlightAndRejectsNew(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	a := newTestAPI(t, &mockLandscapeReader{
		timestamps: func(ctx context.Context, token string) ([]core.Timestamp, error) {
			close(entered)
			<-release
			return []core.Timestamp{{EpochNano: 1, SpanCount: 1}}, nil
		},
	})
	require.NoError(t, a.Listen())
	go func() { _ = a.Serve() }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	inFlight := make(chan int, 1)
	go func() {
		resp, err := client.Get("http://" + a.Addr() + "/v2/landscapes/tok/timestamps")
		if err != nil {
			inFlight <- -1
			return
		}
		resp.Body.Close()
		inFlight <- resp.StatusCode
	}()
	<-entered
	assert.Equal(t, 1, a.InFlight())

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- a.Stop(ctx)
	}()

	// new requests are refused while the old one drains
	assert.Eventually(t, func() bool {
		resp, err := client.Get("http://" + a.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	assert.Equal(t, http.StatusOK, <-inFlight)
	assert.NoError(t, <-stopped)
}

func TestStop_GracePeriodExpires(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	a := newTestAPI(t, &mockLandscapeReader{
		timestamps: func(ctx context.Context, token string) ([]core.Timestamp, error) {
			close(entered)
			<-release
			return nil, nil
		},
	})
	require.NoError(t, a.Listen())
	go func() { _ = a.Serve() }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	go func() {
		resp, err := client.Get("http://" + a.Addr() + "/v2/landscapes/tok/timestamps")
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStop_BeforeListen(t *testing.T) {
	a := newTestAPI(t, &mockLandscapeReader{})
	assert.NoError(t, a.Stop(context.Background()))
	assert.Empty(t, a.Addr())
}
