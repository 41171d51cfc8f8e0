package httpapi

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService reports readiness over grpc.health.v1.Health, both for the
// overall server ("") and under serviceName.
type HealthService struct {
	server    *health.Server
	readiness readinessChecker
	log       *logrus.Entry

	mu      sync.Mutex
	serving bool
}

func NewHealthService(r readinessChecker, log *logrus.Entry) *HealthService {
	if r == nil {
		r = ReadyProbe{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &HealthService{server: health.NewServer(), readiness: r, log: log}
	s.set(false)
	return s
}

// Register attaches the health service to a gRPC server.
func (s *HealthService) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.server)
}

// Refresh runs the readiness check and publishes the resulting status.
func (s *HealthService) Refresh(ctx context.Context) bool {
	err := s.readiness.Check(ctx)
	ok := err == nil
	s.mu.Lock()
	changed := ok != s.serving
	s.mu.Unlock()
	if changed {
		if ok {
			s.log.Info("grpc health: serving")
		} else {
			s.log.WithError(err).Warn("grpc health: not serving")
		}
	}
	s.set(ok)
	return ok
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (s *HealthService) Shutdown() {
	s.server.Shutdown()
}

func (s *HealthService) set(ok bool) {
	s.mu.Lock()
	s.serving = ok
	s.mu.Unlock()
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.server.SetServingStatus("", status)
	s.server.SetServingStatus(serviceName, status)
}
