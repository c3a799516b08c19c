package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields propagated through the call chain.
const (
	// FieldJobID is the indexing job ID
	FieldJobID = "job_id"

	// FieldStage is the pipeline stage name
	FieldStage = "stage"

	// FieldTenant is the GPU tenant (model service) name
	FieldTenant = "tenant"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)
