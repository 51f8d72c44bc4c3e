// Package observability provides metrics for job runs and the detached
// persistence writer.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrName    = "name"
	attrSuccess = "success"
)

// nameAttr labels a measurement with the job name. Job names are
// human-chosen labels ("reindex", "import"), not per-instance ids, so
// cardinality stays bounded.
func nameAttr(name string) attribute.KeyValue {
	return attribute.String(attrName, name)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}
