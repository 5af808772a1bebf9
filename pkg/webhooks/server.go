package webhooks

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/guardian-io/guardian/pkg/config"
	"github.com/guardian-io/guardian/pkg/logging"
	"github.com/guardian-io/guardian/pkg/metrics"
	"github.com/guardian-io/guardian/pkg/webhooks/handlers"
)

type Server interface {
	// Run TLS server in separate thread and returns control immediately
	Run()
	// Stop TLS server and returns control after the server is shut down
	Stop(context.Context)
}

type server struct {
	server *http.Server
}

type TlsProvider = func() ([]byte, []byte, error)

type Probes interface {
	IsReady(context.Context) bool
	IsLive(context.Context) bool
}

// NewServer assembles the admission server: the workload validation endpoint,
// liveness and readiness probes, and the metrics endpoint.
func NewServer(
	addr string,
	tlsProvider TlsProvider,
	validationHandler handlers.AdmissionHandler,
	policyValidationHandler handlers.AdmissionHandler,
	probes Probes,
) Server {
	logger := logging.WithName("webhook-server")
	mux := httprouter.New()
	mux.HandlerFunc(
		"POST",
		config.ValidatingWebhookServicePath,
		validationHandler.WithAdmission(logger.WithName("validate")),
	)
	mux.HandlerFunc(
		"POST",
		config.PolicyValidatingWebhookServicePath,
		policyValidationHandler.WithAdmission(logger.WithName("policyvalidate")),
	)
	mux.HandlerFunc("GET", config.LivenessServicePath, handlers.Probe(func() bool { return probes.IsLive(context.TODO()) }))
	mux.HandlerFunc("GET", config.ReadinessServicePath, handlers.Probe(func() bool { return probes.IsReady(context.TODO()) }))
	mux.Handler("GET", config.MetricsServicePath, metrics.Handler())
	return &server{
		server: &http.Server{
			Addr: addr,
			TLSConfig: &tls.Config{
				GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
					certPem, keyPem, err := tlsProvider()
					if err != nil {
						return nil, err
					}
					pair, err := tls.X509KeyPair(certPem, keyPem)
					if err != nil {
						return nil, err
					}
					return &pair, nil
				},
				MinVersion: tls.VersionTLS12,
			},
			Handler:           mux,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       5 * time.Minute,
			ErrorLog:          logging.StdLogger(logger, ""),
		},
	}
}

func (s *server) Run() {
	go func() {
		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logging.Error(err, "failed to start server")
		}
	}()
}

func (s *server) Stop(ctx context.Context) {
	if err := s.server.Shutdown(ctx); err != nil {
		if err := s.server.Close(); err != nil {
			logging.Error(err, "failed to stop server")
		}
	}
}
