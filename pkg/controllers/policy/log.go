package policy

import "github.com/guardian-io/guardian/pkg/logging"

var logger = logging.WithName(ControllerName)
