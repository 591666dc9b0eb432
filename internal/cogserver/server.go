package cogserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/opentalon/geminicog/internal/audit"
	"github.com/opentalon/geminicog/internal/auth"
	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/logging"
	"github.com/opentalon/geminicog/internal/metrics"
	"github.com/opentalon/geminicog/internal/step"
	"github.com/opentalon/geminicog/pkg/cog"
)

// ClientFunc builds the client shared by every step of one call.
type ClientFunc func(creds auth.Credentials) client.Completer

// Config wires a Server.
type Config struct {
	Info       Info
	Registry   *step.Registry
	AuthFields []auth.Field
	NewClient  ClientFunc
	Auditor    audit.Auditor
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Server implements cog.CogServiceServer.
type Server struct {
	info       Info
	registry   *step.Registry
	authFields []auth.Field
	newClient  ClientFunc
	dispatcher *Dispatcher
	auditor    audit.Auditor
	metrics    *metrics.Metrics
	log        *slog.Logger
}

var _ cog.CogServiceServer = (*Server)(nil)

// New returns a Server. Registry and NewClient are required.
func New(cfg Config) *Server {
	logger := logging.OrDiscard(cfg.Logger)
	auditor := cfg.Auditor
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Server{
		info:       cfg.Info,
		registry:   cfg.Registry,
		authFields: cfg.AuthFields,
		newClient:  cfg.NewClient,
		dispatcher: NewDispatcher(cfg.Registry, cfg.Metrics, logger),
		auditor:    auditor,
		metrics:    cfg.Metrics,
		log:        logger.With("component", "cogserver"),
	}
}

func (s *Server) GetManifest(context.Context, *cog.ManifestRequest) (*cog.CogManifest, error) {
	return BuildManifest(s.info, s.authFields, s.registry), nil
}

func (s *Server) RunStep(ctx context.Context, req *cog.RunStepRequest) (*cog.RunStepResponse, error) {
	c, err := s.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	resp := s.dispatcher.Dispatch(ctx, req, c)
	s.auditor.Export(req.StepID(), resp)
	return resp, nil
}

func (s *Server) RunSteps(stream cog.RunStepsServer) error {
	c, err := s.clientFor(stream.Context())
	if err != nil {
		return err
	}
	end := s.metrics.SessionOpened()
	defer end()

	log := s.log.With("session", uuid.NewString())
	log.Debug("session opened")
	start := time.Now()
	sess := newSession(stream, c, s.dispatcher.Dispatch, s.auditor, log)
	err = sess.run()
	log.Debug("session closed", "elapsed", time.Since(start), "error", err)
	return err
}

// clientFor checks the call's credentials and builds its client.
func (s *Server) clientFor(ctx context.Context) (client.Completer, error) {
	creds, err := auth.FromContext(ctx, s.authFields)
	if err != nil {
		var missing *auth.MissingCredentialsError
		if errors.As(err, &missing) {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.log.DebugContext(ctx, "client created", "credentials", creds.Masked())
	return s.newClient(creds), nil
}

// NewGRPCServer returns a gRPC server with CogService and the standard
// health service registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(cog.MaxMessageSize),
		grpc.MaxSendMsgSize(cog.MaxMessageSize),
		grpc.ChainUnaryInterceptor(srv.logUnary),
	}, opts...)
	gs := grpc.NewServer(opts...)
	cog.RegisterCogServiceServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(cog.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("rpc", "method", info.FullMethod, "elapsed", time.Since(start), "code", status.Code(err))
	return resp, err
}
