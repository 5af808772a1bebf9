package engine

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	admissionv1 "k8s.io/api/admission/v1"
)

// WorkloadDescription is a flattened field-path to value mapping extracted
// from an incoming resource manifest, plus the admission operation. It is
// transient, scoped to one admission request.
type WorkloadDescription struct {
	// Operation is the admission operation (Create, Update, Delete).
	Operation admissionv1.Operation
	// Fields maps dot separated field paths to string coerced values,
	// e.g. "metadata.labels.team" -> "platform".
	Fields map[string]string
}

// Field returns the value at path and whether the path is present.
func (w WorkloadDescription) Field(path string) (string, bool) {
	value, ok := w.Fields[path]
	return value, ok
}

// NewWorkloadDescription flattens an already decoded manifest.
func NewWorkloadDescription(operation admissionv1.Operation, object map[string]interface{}) WorkloadDescription {
	fields := map[string]string{}
	flattenInto(fields, "", object)
	return WorkloadDescription{Operation: operation, Fields: fields}
}

// WorkloadFromAdmissionRequest extracts a WorkloadDescription from an
// admission review request. For Delete operations the old object is used,
// since the request object is empty.
func WorkloadFromAdmissionRequest(request *admissionv1.AdmissionRequest) (WorkloadDescription, error) {
	raw := request.Object.Raw
	if request.Operation == admissionv1.Delete && len(raw) == 0 {
		raw = request.OldObject.Raw
	}
	object := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &object); err != nil {
			return WorkloadDescription{}, errors.Wrap(err, "failed to decode admission request object")
		}
	}
	return NewWorkloadDescription(request.Operation, object), nil
}

func flattenInto(fields map[string]string, prefix string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, nested := range typed {
			flattenInto(fields, joinPath(prefix, key), nested)
		}
	case []interface{}:
		for i, nested := range typed {
			flattenInto(fields, joinPath(prefix, strconv.Itoa(i)), nested)
		}
	case nil:
		if prefix != "" {
			fields[prefix] = ""
		}
	case string:
		fields[prefix] = typed
	case bool:
		fields[prefix] = strconv.FormatBool(typed)
	case float64:
		// JSON numbers decode to float64, render integers without a fraction
		if typed == float64(int64(typed)) {
			fields[prefix] = strconv.FormatInt(int64(typed), 10)
		} else {
			fields[prefix] = strconv.FormatFloat(typed, 'f', -1, 64)
		}
	default:
		fields[prefix] = fmt.Sprint(typed)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
