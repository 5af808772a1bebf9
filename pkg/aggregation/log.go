package aggregation

import "github.com/guardian-io/guardian/pkg/logging"

var logger = logging.WithName("cluster-aggregator")
