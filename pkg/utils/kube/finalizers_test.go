package kube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestAddFinalizerIsIdempotent(t *testing.T) {
	obj := &metav1.ObjectMeta{}
	assert.True(t, AddFinalizer(obj, "guardian.io/cleanup"))
	assert.False(t, AddFinalizer(obj, "guardian.io/cleanup"))
	assert.Equal(t, []string{"guardian.io/cleanup"}, obj.GetFinalizers())
	assert.True(t, HasFinalizer(obj, "guardian.io/cleanup"))
}

func TestRemoveFinalizerKeepsOthers(t *testing.T) {
	obj := &metav1.ObjectMeta{Finalizers: []string{"other/protect", "guardian.io/cleanup"}}
	assert.True(t, RemoveFinalizer(obj, "guardian.io/cleanup"))
	assert.Equal(t, []string{"other/protect"}, obj.GetFinalizers())
	assert.False(t, HasFinalizer(obj, "guardian.io/cleanup"))
	assert.False(t, RemoveFinalizer(obj, "guardian.io/cleanup"))
}
