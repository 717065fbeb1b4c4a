package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Route is one entry of the REST registration table. Prefix routes match
// every path below Path.
type Route struct {
	Name    string
	Method  string
	Path    string
	Prefix  bool
	Handler http.Handler
}

// Routes returns the REST registration table.
func (a *API) Routes() []Route {
	return []Route{
		{Name: "health", Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(a.healthCheck)},
		{Name: "metrics", Method: http.MethodGet, Path: "/metrics", Handler: promhttp.Handler()},
		{Name: "timestamps", Method: http.MethodGet, Path: "/v2/landscapes/{token}/timestamps", Handler: http.HandlerFunc(a.getTimestamps)},
		{Name: "structure", Method: http.MethodGet, Path: "/v2/landscapes/{token}/structure", Handler: http.HandlerFunc(a.getStructure)},
		{Name: "repositories", Method: http.MethodGet, Path: "/v2/landscapes/{token}/repositories", Handler: http.HandlerFunc(a.getRepositories)},
		{Name: "latest_commit", Method: http.MethodGet, Path: "/v2/landscapes/{token}/commits/{repository}/{branch}/latest", Handler: http.HandlerFunc(a.getLatestCommit)},
		{Name: "latest_commit_legacy", Method: http.MethodGet, Path: "/{token}/commits/{repository}/{branch}/latest", Handler: http.HandlerFunc(a.getLatestCommit)},
		{Name: "static_applications", Method: http.MethodGet, Path: "/v2/code/applications/{token}", Handler: http.HandlerFunc(a.getStaticApplications)},
		{Name: "commit_tree", Method: http.MethodGet, Path: "/v2/code/commit-tree/{token}/{application}", Handler: http.HandlerFunc(a.getCommitTree)},
		{Name: "swagger", Method: http.MethodGet, Path: "/swagger/", Prefix: true, Handler: httpSwagger.WrapHandler},
	}
}
