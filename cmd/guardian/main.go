package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/aggregation"
	"github.com/guardian-io/guardian/pkg/config"
	"github.com/guardian-io/guardian/pkg/logging"
	"github.com/guardian-io/guardian/pkg/webhooks"
	policywebhook "github.com/guardian-io/guardian/pkg/webhooks/policy"
	"github.com/guardian-io/guardian/pkg/webhooks/resource"
)

var (
	logFormat           string
	clustersConfigPath  string
	localCluster        string
	failurePolicy       string
	denySeverity        string
	aggregationInterval time.Duration
	aggregationTimeout  time.Duration
	serverAddress       string
	tlsCertFile         string
	tlsKeyFile          string
)

func parseFlags() {
	flagset := flag.NewFlagSet("guardian", flag.ExitOnError)
	flagset.StringVar(&logFormat, "loggingFormat", logging.TextFormat, "This determines the output format of the logger.")
	flagset.StringVar(&clustersConfigPath, "clustersConfig", "/etc/guardian/clusters.yaml", "Path to the managed clusters configuration file.")
	flagset.StringVar(&localCluster, "cluster", "", "Name of the cluster whose admission webhook this instance serves. Defaults to the first configured cluster.")
	flagset.StringVar(&failurePolicy, "failurePolicy", "", "How admission requests are resolved when evaluation does not complete in time (FailOpen or FailClosed).")
	flagset.StringVar(&denySeverity, "denySeverity", "", "Smallest policy severity that denies admission (Low, Medium or High).")
	flagset.DurationVar(&aggregationInterval, "aggregationInterval", 0, "Period of the cross cluster aggregation cycle.")
	flagset.DurationVar(&aggregationTimeout, "aggregationTimeout", 0, "Per cluster poll deadline within one aggregation cycle.")
	flagset.StringVar(&serverAddress, "serverAddress", ":9443", "Address the admission server listens on.")
	flagset.StringVar(&tlsCertFile, "tlsCertFile", "/etc/guardian/tls/tls.crt", "Path to the TLS certificate served by the admission server.")
	flagset.StringVar(&tlsKeyFile, "tlsKeyFile", "/etc/guardian/tls/tls.key", "Path to the TLS private key served by the admission server.")
	logging.InitFlags(flagset)
	_ = flagset.Parse(os.Args[1:])
}

func setupSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// tlsProvider reads the certificate pair on every handshake so rotated
// certificates are picked up without a restart.
func tlsProvider() ([]byte, []byte, error) {
	cert, err := os.ReadFile(tlsCertFile)
	if err != nil {
		return nil, nil, err
	}
	key, err := os.ReadFile(tlsKeyFile)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

type probes struct {
	gate *resource.Handler
}

func (p probes) IsReady(context.Context) bool {
	return p.gate.Ready()
}

func (p probes) IsLive(context.Context) bool {
	return true
}

func main() {
	parseFlags()
	if err := logging.Setup(logFormat); err != nil {
		// logger not operational yet
		os.Exit(1)
	}
	logger := logging.WithName("setup")

	ctx, cancel := setupSignals()
	defer cancel()

	clustersConfig, err := config.LoadClustersConfig(clustersConfigPath)
	if err != nil {
		logger.Error(err, "failed to load clusters config")
		os.Exit(1)
	}
	if localCluster == "" {
		localCluster = clustersConfig.Clusters[0].Name
	}
	cfg := config.NewConfiguration(
		config.FailurePolicy(failurePolicy),
		guardianv1.PolicySeverity(denySeverity),
		aggregationInterval,
		aggregationTimeout,
	)

	var localRuntime *aggregation.Runtime
	factory := func(handle aggregation.ClusterHandle) (aggregation.ClusterRuntime, error) {
		runtime, err := aggregation.NewRuntime(handle, cfg)
		if err != nil {
			return nil, err
		}
		if handle.ClusterID == localCluster {
			localRuntime = runtime
		}
		return runtime, nil
	}
	aggregator := aggregation.New(factory, cfg)
	for _, entry := range clustersConfig.Clusters {
		restConfig, err := entry.RestConfig()
		if err != nil {
			logger.Error(err, "failed to build rest config", "cluster", entry.Name)
			os.Exit(1)
		}
		if err := aggregator.AddCluster(ctx, aggregation.ClusterHandle{ClusterID: entry.Name, RestConfig: restConfig}); err != nil {
			logger.Error(err, "failed to register cluster", "cluster", entry.Name)
			os.Exit(1)
		}
	}
	if localRuntime == nil {
		logger.Error(nil, "designated cluster is not in the clusters config", "cluster", localCluster)
		os.Exit(1)
	}

	server := webhooks.NewServer(serverAddress, tlsProvider, localRuntime.Gate().Validate, policywebhook.NewHandler().Validate, probes{gate: localRuntime.Gate()})
	server.Run()
	logger.Info("admission server started", "address", serverAddress, "cluster", localCluster)

	aggregator.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Stop(shutdownCtx)
}
