package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"explorviz/core"
	"explorviz/storage"
	"github.com/gorilla/mux"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
}

type structureResponse struct {
	LandscapeToken string             `json:"landscapeToken"`
	Applications   []core.Application `json:"applications"`
}

// healthCheck godoc
//
//	@Summary		Service health
//	@Description	Reports whether the graph store answers
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	healthResponse
//	@Failure		503	{object}	healthResponse
//	@Router			/health [get]
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warnw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// getTimestamps lists trace timestamps. A landscape without traces yields
// one entry for the current time with zero spans.
//
//	@Summary		List trace timestamps
//	@Tags			landscapes
//	@Produce		json
//	@Param			token	path		string	true	"Landscape token"
//	@Success		200		{array}		core.Timestamp
//	@Failure		503		{object}	errorResponse
//	@Router			/v2/landscapes/{token}/timestamps [get]
func (a *API) getTimestamps(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	timestamps, err := a.store.Timestamps(r.Context(), token)
	if err != nil {
		a.storeError(w, r, "timestamps", err)
		return
	}
	if len(timestamps) == 0 {
		timestamps = core.FallbackTimestamps(a.now())
	}
	writeJSON(w, http.StatusOK, timestamps)
}

// getStructure godoc
//
//	@Summary		Landscape structure
//	@Description	Returns the applications of a landscape with their functions
//	@Tags			landscapes
//	@Produce		json
//	@Param			token	path		string	true	"Landscape token"
//	@Success		200		{object}	structureResponse
//	@Failure		503		{object}	errorResponse
//	@Router			/v2/landscapes/{token}/structure [get]
func (a *API) getStructure(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	apps, err := a.store.Structure(r.Context(), token)
	if err != nil {
		a.storeError(w, r, "structure", err)
		return
	}
	writeJSON(w, http.StatusOK, structureResponse{LandscapeToken: token, Applications: apps})
}

// getRepositories godoc
//
//	@Summary	List repositories
//	@Tags		landscapes
//	@Produce	json
//	@Param		token	path		string	true	"Landscape token"
//	@Success	200		{array}		string
//	@Router		/v2/landscapes/{token}/repositories [get]
func (a *API) getRepositories(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	names, err := a.store.Repositories(r.Context(), token)
	if err != nil {
		a.storeError(w, r, "repositories", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// getLatestCommit godoc
//
//	@Summary		Latest commit of a branch
//	@Description	Returns the newest commit whose files are all persisted
//	@Tags			commits
//	@Produce		json
//	@Param			token		path		string	true	"Landscape token"
//	@Param			repository	path		string	true	"Repository name"
//	@Param			branch		path		string	true	"Branch name"
//	@Success		200			{object}	core.CommitSummary
//	@Failure		404			{object}	errorResponse
//	@Router			/v2/landscapes/{token}/commits/{repository}/{branch}/latest [get]
//	@Router			/{token}/commits/{repository}/{branch}/latest [get]
func (a *API) getLatestCommit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	commit, err := a.store.LatestCommit(r.Context(), vars["token"], vars["repository"], vars["branch"])
	if err != nil {
		a.storeError(w, r, "latest commit", err)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

// getStaticApplications godoc
//
//	@Summary		List analysed applications
//	@Description	Returns the applications named in commit reports
//	@Tags			code
//	@Produce		json
//	@Param			token	path	string	true	"Landscape token"
//	@Success		200		{array}	string
//	@Router			/v2/code/applications/{token} [get]
func (a *API) getStaticApplications(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	names, err := a.store.StaticApplications(r.Context(), token)
	if err != nil {
		a.storeError(w, r, "applications", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// getCommitTree godoc
//
//	@Summary		Commit tree of an application
//	@Description	Returns the branches of an application with their commits and branch points
//	@Tags			code
//	@Produce		json
//	@Param			token		path		string	true	"Landscape token"
//	@Param			application	path		string	true	"Application name"
//	@Success		200			{object}	core.CommitTree
//	@Failure		404			{object}	errorResponse
//	@Router			/v2/code/commit-tree/{token}/{application} [get]
func (a *API) getCommitTree(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tree, err := a.store.CommitTree(r.Context(), vars["token"], vars["application"])
	if err != nil {
		a.storeError(w, r, "commit tree", err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// storeError maps a graph store error onto a response.
func (a *API) storeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	requestID, _ := GetRequestID(r.Context())
	var elapsed time.Duration
	if start, ok := GetTraceStart(r.Context()); ok {
		elapsed = time.Since(start)
	}

	switch {
	case errors.Is(err, storage.ErrCommitNotFound):
		writeError(w, http.StatusNotFound, "no fully persisted commit found")
	case errors.Is(err, storage.ErrApplicationNotFound):
		writeError(w, http.StatusNotFound, "application not found")
	case storage.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		a.logger.Warnw("Graph store unavailable", "operation", operation, "request_id", requestID, "elapsed", elapsed, "error", err)
		writeError(w, http.StatusServiceUnavailable, "graph store unavailable")
	default:
		a.logger.Errorw("Graph store query failed", "operation", operation, "request_id", requestID, "elapsed", elapsed, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read "+operation)
	}
}
