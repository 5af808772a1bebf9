package client

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
)

// EventType discriminates change events from the policy feed.
type EventType string

const (
	// Upsert signals a policy was created or its spec changed.
	Upsert EventType = "Upsert"
	// Delete signals a policy was physically removed.
	Delete EventType = "Delete"
)

// ChangeEvent is one observed change to a policy resource. Delivery is
// at-least-once with no ordering guarantee across different names.
type ChangeEvent struct {
	Type EventType
	// Name identifies the policy within the cluster.
	Name string
	// Policy carries the observed object for Upsert events.
	Policy *guardianv1.GuardianPolicy
}

// EventHandler consumes change events.
type EventHandler func(ChangeEvent)

// ResyncFunc reconciles consumer state against a full relist. It runs before
// every watch attempt so that changes missed during a stream outage, deletes
// in particular, are recovered before events flow again.
type ResyncFunc func(context.Context) error

// RunWatcher streams policy change events into handler until the context is
// done, reconnecting on stream loss. Each connect attempt starts with resync,
// a failed resync delays the watch by the retry period. Consumers must still
// tolerate replays: a reconnect may redeliver the current state as Upserts.
func RunWatcher(ctx context.Context, policies GuardianPolicyInterface, resync ResyncFunc, handler EventHandler, logger logr.Logger) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if resync != nil {
			if err := resync(ctx); err != nil {
				logger.Error(err, "policy resync failed, retrying")
				return
			}
		}
		watcher, err := policies.Watch(ctx)
		if err != nil {
			logger.Error(err, "failed to start policy watch, retrying")
			return
		}
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.ResultChan():
				if !ok {
					logger.V(2).Info("policy watch closed, reconnecting")
					return
				}
				if change, ok := toChangeEvent(event, logger); ok {
					handler(change)
				}
			}
		}
	}, time.Second)
}

func toChangeEvent(event watch.Event, logger logr.Logger) (ChangeEvent, bool) {
	switch event.Type {
	case watch.Added, watch.Modified, watch.Deleted:
	default:
		return ChangeEvent{}, false
	}
	var policy *guardianv1.GuardianPolicy
	switch obj := event.Object.(type) {
	case *guardianv1.GuardianPolicy:
		policy = obj
	case *unstructured.Unstructured:
		converted, err := PolicyFromUnstructured(obj)
		if err != nil {
			logger.Error(err, "failed to convert watch object", "type", event.Type)
			return ChangeEvent{}, false
		}
		policy = converted
	default:
		logger.Info("unexpected object type in policy watch", "type", event.Type)
		return ChangeEvent{}, false
	}
	if event.Type == watch.Deleted {
		return ChangeEvent{Type: Delete, Name: policy.GetName()}, true
	}
	return ChangeEvent{Type: Upsert, Name: policy.GetName(), Policy: policy}, true
}
