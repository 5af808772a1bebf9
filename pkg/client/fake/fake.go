package fake

import (
	"context"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/client"
)

// Client is an in-memory client.Interface for tests. Error hooks allow
// simulating transient API failures.
type Client struct {
	mu       sync.Mutex
	policies map[string]*guardianv1.GuardianPolicy
	watcher  *watch.FakeWatcher

	// UpdateErr, when non-nil, is consumed by the next Update call.
	UpdateErr error
	// UpdateStatusErrs are consumed one per UpdateStatus call, nil entries
	// mean success.
	UpdateStatusErrs []error

	updateStatusCalls int
}

var _ client.Interface = &Client{}

// New returns an empty fake cluster.
func New(policies ...*guardianv1.GuardianPolicy) *Client {
	c := &Client{
		policies: map[string]*guardianv1.GuardianPolicy{},
		watcher:  watch.NewFakeWithChanSize(64, false),
	}
	for _, p := range policies {
		c.policies[p.GetName()] = p.DeepCopy()
	}
	return c
}

func (c *Client) GuardianPolicies() client.GuardianPolicyInterface {
	return (*fakePolicies)(c)
}

// Set stores a policy without going through Update semantics and emits the
// matching watch event.
func (c *Client) Set(policy *guardianv1.GuardianPolicy) {
	c.mu.Lock()
	_, existed := c.policies[policy.GetName()]
	stored := policy.DeepCopy()
	c.policies[policy.GetName()] = stored
	c.mu.Unlock()
	if existed {
		c.watcher.Modify(stored)
	} else {
		c.watcher.Add(stored)
	}
}

// Remove deletes a policy from the backing store and emits a Deleted watch event.
func (c *Client) Remove(name string) {
	c.mu.Lock()
	policy, ok := c.policies[name]
	delete(c.policies, name)
	c.mu.Unlock()
	if ok {
		c.watcher.Delete(policy)
	}
}

// Stored returns the currently stored policy, or nil.
func (c *Client) Stored(name string) *guardianv1.GuardianPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.policies[name]; ok {
		return p.DeepCopy()
	}
	return nil
}

// UpdateStatusCalls returns how many UpdateStatus calls were made.
func (c *Client) UpdateStatusCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateStatusCalls
}

type fakePolicies Client

func (f *fakePolicies) Get(ctx context.Context, name string) (*guardianv1.GuardianPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	policy, ok := f.policies[name]
	if !ok {
		return nil, apierrors.NewNotFound(guardianv1.Resource("guardianpolicies"), name)
	}
	return policy.DeepCopy(), nil
}

func (f *fakePolicies) List(ctx context.Context) (*guardianv1.GuardianPolicyList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &guardianv1.GuardianPolicyList{}
	for _, policy := range f.policies {
		list.Items = append(list.Items, *policy.DeepCopy())
	}
	return list, nil
}

func (f *fakePolicies) Update(ctx context.Context, policy *guardianv1.GuardianPolicy) (*guardianv1.GuardianPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		err := f.UpdateErr
		f.UpdateErr = nil
		return nil, err
	}
	if _, ok := f.policies[policy.GetName()]; !ok {
		return nil, apierrors.NewNotFound(guardianv1.Resource("guardianpolicies"), policy.GetName())
	}
	stored := policy.DeepCopy()
	f.policies[policy.GetName()] = stored
	return stored.DeepCopy(), nil
}

func (f *fakePolicies) UpdateStatus(ctx context.Context, policy *guardianv1.GuardianPolicy) (*guardianv1.GuardianPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateStatusCalls++
	if len(f.UpdateStatusErrs) > 0 {
		err := f.UpdateStatusErrs[0]
		f.UpdateStatusErrs = f.UpdateStatusErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	stored, ok := f.policies[policy.GetName()]
	if !ok {
		return nil, apierrors.NewNotFound(guardianv1.Resource("guardianpolicies"), policy.GetName())
	}
	stored.Status = *policy.Status.DeepCopy()
	return stored.DeepCopy(), nil
}

func (f *fakePolicies) Delete(ctx context.Context, name string) (err error) {
	f.mu.Lock()
	policy, ok := f.policies[name]
	if !ok {
		err = apierrors.NewNotFound(guardianv1.Resource("guardianpolicies"), name)
	} else {
		delete(f.policies, name)
	}
	f.mu.Unlock()
	if ok {
		f.watcher.Delete(policy)
	}
	return err
}

func (f *fakePolicies) Watch(ctx context.Context) (watch.Interface, error) {
	return f.watcher, nil
}
