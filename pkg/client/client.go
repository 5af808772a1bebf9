package client

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
)

// Interface is the cluster API surface the governance core needs.
type Interface interface {
	// GuardianPolicies returns the policy resource client.
	GuardianPolicies() GuardianPolicyInterface
}

// GuardianPolicyInterface accesses GuardianPolicy resources in one cluster.
type GuardianPolicyInterface interface {
	Get(ctx context.Context, name string) (*guardianv1.GuardianPolicy, error)
	List(ctx context.Context) (*guardianv1.GuardianPolicyList, error)
	Update(ctx context.Context, policy *guardianv1.GuardianPolicy) (*guardianv1.GuardianPolicy, error)
	UpdateStatus(ctx context.Context, policy *guardianv1.GuardianPolicy) (*guardianv1.GuardianPolicy, error)
	Delete(ctx context.Context, name string) error
	Watch(ctx context.Context) (watch.Interface, error)
}

type client struct {
	dynamic dynamic.Interface
}

// New creates a cluster API client from a rest config.
func New(config *rest.Config) (Interface, error) {
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create dynamic client")
	}
	return FromDynamic(dyn), nil
}

// FromDynamic wraps an existing dynamic client.
func FromDynamic(dyn dynamic.Interface) Interface {
	return &client{dynamic: dyn}
}

func (c *client) GuardianPolicies() GuardianPolicyInterface {
	return &policies{resource: c.dynamic.Resource(guardianv1.GuardianPolicyGVR)}
}

type policies struct {
	resource dynamic.NamespaceableResourceInterface
}

func (p *policies) Get(ctx context.Context, name string) (*guardianv1.GuardianPolicy, error) {
	obj, err := p.resource.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return PolicyFromUnstructured(obj)
}

func (p *policies) List(ctx context.Context) (*guardianv1.GuardianPolicyList, error) {
	objs, err := p.resource.List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	list := &guardianv1.GuardianPolicyList{}
	list.SetResourceVersion(objs.GetResourceVersion())
	for i := range objs.Items {
		policy, err := PolicyFromUnstructured(&objs.Items[i])
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, *policy)
	}
	return list, nil
}

func (p *policies) Update(ctx context.Context, policy *guardianv1.GuardianPolicy) (*guardianv1.GuardianPolicy, error) {
	obj, err := PolicyToUnstructured(policy)
	if err != nil {
		return nil, err
	}
	updated, err := p.resource.Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	return PolicyFromUnstructured(updated)
}

func (p *policies) UpdateStatus(ctx context.Context, policy *guardianv1.GuardianPolicy) (*guardianv1.GuardianPolicy, error) {
	obj, err := PolicyToUnstructured(policy)
	if err != nil {
		return nil, err
	}
	updated, err := p.resource.UpdateStatus(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	return PolicyFromUnstructured(updated)
}

func (p *policies) Delete(ctx context.Context, name string) error {
	return p.resource.Delete(ctx, name, metav1.DeleteOptions{})
}

func (p *policies) Watch(ctx context.Context) (watch.Interface, error) {
	return p.resource.Watch(ctx, metav1.ListOptions{})
}

// PolicyFromUnstructured converts an unstructured object into a typed policy.
func PolicyFromUnstructured(obj *unstructured.Unstructured) (*guardianv1.GuardianPolicy, error) {
	policy := &guardianv1.GuardianPolicy{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, policy); err != nil {
		return nil, errors.Wrapf(err, "failed to convert %s to GuardianPolicy", obj.GetName())
	}
	return policy, nil
}

// PolicyToUnstructured converts a typed policy into an unstructured object.
func PolicyToUnstructured(policy *guardianv1.GuardianPolicy) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(policy)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to convert GuardianPolicy %s to unstructured", policy.GetName())
	}
	obj := &unstructured.Unstructured{Object: content}
	obj.SetGroupVersionKind(guardianv1.SchemeGroupVersion.WithKind("GuardianPolicy"))
	return obj, nil
}
