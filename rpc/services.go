package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"explorviz/core"
	"explorviz/storage"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Package-qualified names of the persistence services.
const (
	PackageName             = "explorviz.persistence.v1"
	SpanDataServiceName     = PackageName + ".SpanDataService"
	StateDataServiceName    = PackageName + ".StateDataService"
	CommitServiceName       = PackageName + ".CommitService"
	FileDataServiceName     = PackageName + ".FileDataService"
	CommitReportServiceName = PackageName + ".CommitReportService"
	PersistSpanMethod       = "/" + SpanDataServiceName + "/PersistSpan"
	RequestStateDataMethod  = "/" + StateDataServiceName + "/RequestStateData"
	PersistCommitMethod     = "/" + CommitServiceName + "/PersistCommit"
	PersistFileDataMethod   = "/" + FileDataServiceName + "/PersistFile"
	SendCommitReportMethod  = "/" + CommitReportServiceName + "/SendCommitReport"
)

// Empty is the response of every write RPC.
type Empty struct{}

// IngestStore is the write side of the graph store.
type IngestStore interface {
	PersistSpan(ctx context.Context, span core.Span) error
	RegisterRepository(ctx context.Context, token, repository, branch string) error
	PersistCommit(ctx context.Context, commit core.Commit) error
	PersistFileData(ctx context.Context, data core.FileData) error
	PersistCommitReport(ctx context.Context, report core.CommitReport) error
}

// SpanDataServer receives spans from the span ingestion pipeline.
type SpanDataServer interface {
	PersistSpan(ctx context.Context, span *core.Span) (*Empty, error)
}

// StateDataServer announces a repository before its commits are sent.
type StateDataServer interface {
	RequestStateData(ctx context.Context, req *core.StateDataRequest) (*core.StateData, error)
}

// CommitServer receives commits from static analysis.
type CommitServer interface {
	PersistCommit(ctx context.Context, commit *core.Commit) (*Empty, error)
}

// FileDataServer receives per-file analysis results.
type FileDataServer interface {
	PersistFile(ctx context.Context, data *core.FileData) (*Empty, error)
}

// CommitReportServer links built applications to the commits they came from.
type CommitReportServer interface {
	SendCommitReport(ctx context.Context, report *core.CommitReport) (*Empty, error)
}

// Service implements every persistence RPC on top of an IngestStore.
type Service struct {
	store    IngestStore
	validate *validator.Validate
	logger   *zap.SugaredLogger
}

func NewService(store IngestStore, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (s *Service) PersistSpan(ctx context.Context, span *core.Span) (*Empty, error) {
	if err := s.validateRequest(span); err != nil {
		return nil, err
	}
	if err := s.store.PersistSpan(ctx, *span); err != nil {
		return nil, s.storeError("persist span", err)
	}
	return &Empty{}, nil
}

// RequestStateData registers the repository named by the upstream URL. The
// returned commit ID is always empty: analysis restarts from the branch head.
func (s *Service) RequestStateData(ctx context.Context, req *core.StateDataRequest) (*core.StateData, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	repository := core.StripRepositoryName(req.UpstreamName)
	if repository == "" {
		return nil, status.Error(codes.InvalidArgument, "upstream name has no repository segment")
	}
	if err := s.store.RegisterRepository(ctx, req.LandscapeToken, repository, req.BranchName); err != nil {
		return nil, s.storeError("register repository", err)
	}

	s.logger.Infow("Registered repository", "landscape", req.LandscapeToken, "repository", repository, "branch", req.BranchName)
	return &core.StateData{BranchName: req.BranchName, CommitID: ""}, nil
}

func (s *Service) PersistCommit(ctx context.Context, commit *core.Commit) (*Empty, error) {
	if err := s.validateRequest(commit); err != nil {
		return nil, err
	}
	if err := s.store.PersistCommit(ctx, *commit); err != nil {
		return nil, s.storeError("persist commit", err)
	}
	return &Empty{}, nil
}

func (s *Service) PersistFile(ctx context.Context, data *core.FileData) (*Empty, error) {
	if err := s.validateRequest(data); err != nil {
		return nil, err
	}
	if err := s.store.PersistFileData(ctx, *data); err != nil {
		return nil, s.storeError("persist file data", err)
	}
	return &Empty{}, nil
}

// SendCommitReport records which commit an application was built from. The
// repository may be given as an upstream URL.
func (s *Service) SendCommitReport(ctx context.Context, report *core.CommitReport) (*Empty, error) {
	if err := s.validateRequest(report); err != nil {
		return nil, err
	}

	stored := *report
	stored.RepositoryName = core.StripRepositoryName(report.RepositoryName)
	if stored.RepositoryName == "" {
		return nil, status.Error(codes.InvalidArgument, "repository name has no repository segment")
	}
	if err := s.store.PersistCommitReport(ctx, stored); err != nil {
		return nil, s.storeError("persist commit report", err)
	}

	s.logger.Debugw("Persisted commit report",
		"landscape", stored.LandscapeToken,
		"application", stored.ApplicationName,
		"repository", stored.RepositoryName,
		"commit", stored.CommitID,
		"added", len(stored.Added),
		"modified", len(stored.Modified),
		"deleted", len(stored.Deleted),
		"unchanged", len(stored.Unchanged()))
	return &Empty{}, nil
}

func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return status.Errorf(codes.InvalidArgument, "invalid request: %s", strings.Join(fields, ", "))
}

// storeError maps a graph store error onto a gRPC status.
func (s *Service) storeError(operation string, err error) error {
	switch {
	case errors.Is(err, storage.ErrRepositoryNotFound):
		return status.Error(codes.FailedPrecondition, "no state data was requested for this repository")
	case errors.Is(err, storage.ErrFileNotFound):
		return status.Error(codes.FailedPrecondition, "file was not announced by any commit")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, operation+" canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, operation+" timed out")
	case storage.IsUnavailable(err):
		s.logger.Warnw("Graph store unavailable", "operation", operation, "error", err)
		return status.Error(codes.Unavailable, "graph store unavailable")
	default:
		s.logger.Errorw("Graph store write failed", "operation", operation, "error", err)
		return status.Error(codes.Internal, operation+" failed")
	}
}

// ServiceRegistration is one entry of the RPC registration table.
type ServiceRegistration struct {
	Desc *grpc.ServiceDesc
	Impl any
}

// Services returns the RPC registration table for svc.
func Services(svc *Service) []ServiceRegistration {
	return []ServiceRegistration{
		{Desc: &SpanDataServiceDesc, Impl: svc},
		{Desc: &StateDataServiceDesc, Impl: svc},
		{Desc: &CommitServiceDesc, Impl: svc},
		{Desc: &FileDataServiceDesc, Impl: svc},
		{Desc: &CommitReportServiceDesc, Impl: svc},
	}
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](fullMethod string, call func(srv any, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var SpanDataServiceDesc = grpc.ServiceDesc{
	ServiceName: SpanDataServiceName,
	HandlerType: (*SpanDataServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "PersistSpan",
		Handler: unaryHandler(PersistSpanMethod, func(srv any, ctx context.Context, req *core.Span) (*Empty, error) {
			return srv.(SpanDataServer).PersistSpan(ctx, req)
		}),
	}},
	Metadata: PackageName,
}

var StateDataServiceDesc = grpc.ServiceDesc{
	ServiceName: StateDataServiceName,
	HandlerType: (*StateDataServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "RequestStateData",
		Handler: unaryHandler(RequestStateDataMethod, func(srv any, ctx context.Context, req *core.StateDataRequest) (*core.StateData, error) {
			return srv.(StateDataServer).RequestStateData(ctx, req)
		}),
	}},
	Metadata: PackageName,
}

var CommitServiceDesc = grpc.ServiceDesc{
	ServiceName: CommitServiceName,
	HandlerType: (*CommitServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "PersistCommit",
		Handler: unaryHandler(PersistCommitMethod, func(srv any, ctx context.Context, req *core.Commit) (*Empty, error) {
			return srv.(CommitServer).PersistCommit(ctx, req)
		}),
	}},
	Metadata: PackageName,
}

var FileDataServiceDesc = grpc.ServiceDesc{
	ServiceName: FileDataServiceName,
	HandlerType: (*FileDataServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "PersistFile",
		Handler: unaryHandler(PersistFileDataMethod, func(srv any, ctx context.Context, req *core.FileData) (*Empty, error) {
			return srv.(FileDataServer).PersistFile(ctx, req)
		}),
	}},
	Metadata: PackageName,
}

var CommitReportServiceDesc = grpc.ServiceDesc{
	ServiceName: CommitReportServiceName,
	HandlerType: (*CommitReportServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "SendCommitReport",
		Handler: unaryHandler(SendCommitReportMethod, func(srv any, ctx context.Context, req *core.CommitReport) (*Empty, error) {
			return srv.(CommitReportServer).SendCommitReport(ctx, req)
		}),
	}},
	Metadata: PackageName,
}
