package kube

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// HasFinalizer reports whether the object carries the given finalizer.
func HasFinalizer(obj metav1.Object, finalizer string) bool {
	for _, f := range obj.GetFinalizers() {
		if f == finalizer {
			return true
		}
	}
	return false
}

// AddFinalizer appends the finalizer when absent and reports whether the
// object was modified, so callers only issue an update when needed.
func AddFinalizer(obj metav1.Object, finalizer string) bool {
	if HasFinalizer(obj, finalizer) {
		return false
	}
	obj.SetFinalizers(append(obj.GetFinalizers(), finalizer))
	return true
}

// RemoveFinalizer drops every occurrence of the finalizer and reports whether
// the object was modified.
func RemoveFinalizer(obj metav1.Object, finalizer string) bool {
	finalizers := obj.GetFinalizers()
	kept := make([]string, 0, len(finalizers))
	for _, f := range finalizers {
		if f != finalizer {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(finalizers) {
		return false
	}
	obj.SetFinalizers(kept)
	return true
}
