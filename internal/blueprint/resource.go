package blueprint

// ResourceType enumerates the resource kinds a blueprint resource may declare.
type ResourceType string

const (
	ResourceTypeAPI           ResourceType = "api"
	ResourceTypeConsumer      ResourceType = "consumer"
	ResourceTypeSchedule      ResourceType = "schedule"
	ResourceTypeHandler       ResourceType = "handler"
	ResourceTypeHandlerConfig ResourceType = "handler-config"
	ResourceTypeWorkflow      ResourceType = "workflow"
	ResourceTypeConfig        ResourceType = "config"
	ResourceTypeBucket        ResourceType = "bucket"
	ResourceTypeTopic         ResourceType = "topic"
	ResourceTypeQueue         ResourceType = "queue"
	ResourceTypeDatastore     ResourceType = "datastore"
	ResourceTypeVPC           ResourceType = "vpc"
)

// ResourceMetadata carries the common display/annotation/label fields every
// resource declares.
type ResourceMetadata struct {
	DisplayName string
	Annotations map[string]Scalar
	Labels      map[string]string
}

// LinkSelector selects related resources by label match.
type LinkSelector struct {
	ByLabel map[string]string
}

// Resource is one entry in Blueprint.Resources.
type Resource struct {
	Type         ResourceType
	Metadata     ResourceMetadata
	LinkSelector LinkSelector
	Spec         *MappingNode
	Description  string `validate:"omitempty"`
}

// VariableDefinition describes one entry under the blueprint's top-level
// `variables` key.
type VariableDefinition struct {
	Type          string `validate:"required"`
	AllowedValues []Scalar
	Default       *Scalar
	Secret        bool
	Description   string
}

// Metadata is the optional blueprint-level metadata block.
type Metadata struct {
	SharedHandlerConfig *MappingNode
}

// Blueprint is the root resolved document described in spec.md §3.
type Blueprint struct {
	Version       string                        `validate:"required"`
	Transform     []string
	Variables     map[string]VariableDefinition
	Resources     map[string]Resource           `validate:"required,min=1"`
	Metadata      Metadata
}
