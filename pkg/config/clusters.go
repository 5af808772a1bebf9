package config

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClusterEntry names one managed cluster and how to reach its API.
type ClusterEntry struct {
	// Name identifies the cluster in compliance views and metrics.
	Name string `yaml:"name"`
	// Kubeconfig is the path to the kubeconfig file for this cluster.
	Kubeconfig string `yaml:"kubeconfig"`
	// Context optionally selects a context within the kubeconfig.
	Context string `yaml:"context,omitempty"`
}

// ClustersConfig is the externally supplied list of managed clusters.
type ClustersConfig struct {
	Clusters []ClusterEntry `yaml:"clusters"`
}

// LoadClustersConfig reads and validates a cluster list from a YAML file.
func LoadClustersConfig(path string) (*ClustersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read clusters config %s", path)
	}
	var cfg ClustersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse clusters config %s", path)
	}
	if len(cfg.Clusters) == 0 {
		return nil, errors.Errorf("clusters config %s contains no clusters", path)
	}
	seen := map[string]bool{}
	for _, entry := range cfg.Clusters {
		if entry.Name == "" {
			return nil, errors.Errorf("clusters config %s contains a cluster without a name", path)
		}
		if seen[entry.Name] {
			return nil, errors.Errorf("clusters config %s contains duplicate cluster %s", path, entry.Name)
		}
		seen[entry.Name] = true
	}
	return &cfg, nil
}

// RestConfig builds a client-go rest.Config for the entry. An empty
// kubeconfig falls back to in-cluster configuration.
func (e ClusterEntry) RestConfig() (*rest.Config, error) {
	if e.Kubeconfig == "" {
		return rest.InClusterConfig()
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = e.Kubeconfig
	overrides := &clientcmd.ConfigOverrides{CurrentContext: e.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}
