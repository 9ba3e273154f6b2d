package domain

// NodeType tags a node with its variant
type NodeType string

const (
	NodeTypeStart         NodeType = "start"
	NodeTypeEndpoint      NodeType = "endpoint"
	NodeTypeCondition     NodeType = "condition"
	NodeTypePersonJob     NodeType = "person_job"
	NodeTypePersonBatch   NodeType = "person_batch_job"
	NodeTypeCodeJob       NodeType = "code_job"
	NodeTypeAPIJob        NodeType = "api_job"
	NodeTypeDB            NodeType = "db"
	NodeTypeUserResponse  NodeType = "user_response"
	NodeTypeHook          NodeType = "hook"
	NodeTypeNotion        NodeType = "notion"
	NodeTypeTemplateJob   NodeType = "template_job"
)

// validNodeTypes is the closed set the compiler accepts
var validNodeTypes = map[NodeType]bool{
	NodeTypeStart:        true,
	NodeTypeEndpoint:     true,
	NodeTypeCondition:    true,
	NodeTypePersonJob:    true,
	NodeTypePersonBatch:  true,
	NodeTypeCodeJob:      true,
	NodeTypeAPIJob:       true,
	NodeTypeDB:           true,
	NodeTypeUserResponse: true,
	NodeTypeHook:         true,
	NodeTypeNotion:       true,
	NodeTypeTemplateJob:  true,
}

// IsValidNodeType reports whether t is a recognized node type
func IsValidNodeType(t NodeType) bool {
	return validNodeTypes[t]
}

// Position is the node's canvas position. Opaque to the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed diagram node. Exactly one of the config pointers matching
// Type is set after compilation; unknown future fields live in Extensions.
type Node struct {
	ID       NodeID   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Label    string   `json:"label,omitempty"`

	Start        *StartConfig        `json:"start,omitempty"`
	Endpoint     *EndpointConfig     `json:"endpoint,omitempty"`
	Condition    *ConditionConfig    `json:"condition,omitempty"`
	PersonJob    *PersonJobConfig    `json:"person_job,omitempty"`
	CodeJob      *CodeJobConfig      `json:"code_job,omitempty"`
	APIJob       *APIJobConfig       `json:"api_job,omitempty"`
	DB           *DBConfig           `json:"db,omitempty"`
	UserResponse *UserResponseConfig `json:"user_response,omitempty"`
	Hook         *HookConfig         `json:"hook,omitempty"`
	Notion       *NotionConfig       `json:"notion,omitempty"`
	TemplateJob  *TemplateJobConfig  `json:"template_job,omitempty"`

	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// StartConfig holds start-node settings
type StartConfig struct {
	TriggerMode   string                 `json:"trigger_mode,omitempty"`
	CustomData    map[string]interface{} `json:"custom_data,omitempty"`
	OutputDataRef string                 `json:"output_data_ref,omitempty"`
}

// EndpointConfig holds endpoint-node settings
type EndpointConfig struct {
	SaveToFile bool   `json:"save_to_file"`
	FileName   string `json:"file_name,omitempty"`
}

// ConditionKind selects how a condition node produces its boolean
type ConditionKind string

const (
	ConditionKindExpression      ConditionKind = "expression"
	ConditionKindMaxIterations   ConditionKind = "detect_max_iterations"
	ConditionKindNonEmpty        ConditionKind = "non_empty"
)

// ConditionConfig holds condition-node settings
type ConditionConfig struct {
	Kind       ConditionKind `json:"kind"`
	Expression string        `json:"expression,omitempty"`
}

// PersonJobConfig holds person_job settings. A person_job either references
// a configured person by id or carries an inline LLM config.
type PersonJobConfig struct {
	PersonID        string     `json:"person_id,omitempty"`
	LLM             *LLMConfig `json:"llm,omitempty"`
	MaxIteration    int        `json:"max_iteration"`
	FirstOnlyPrompt string     `json:"first_only_prompt,omitempty"`
	DefaultPrompt   string     `json:"default_prompt,omitempty"`
	Tools           []string   `json:"tools,omitempty"`
	BatchKey        string     `json:"batch_key,omitempty"` // person_batch_job: input key holding the batch items
}

// LLMConfig is an inline model configuration for person_job nodes
type LLMConfig struct {
	Service     string  `json:"service"`
	Model       string  `json:"model"`
	APIKeyID    string  `json:"api_key_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// CodeJobConfig holds code_job settings
type CodeJobConfig struct {
	Language       string `json:"language"`
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// APIJobConfig holds api_job settings
type APIJobConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

// DBConfig holds db-node settings
type DBConfig struct {
	Operation string `json:"operation"` // read|write|append
	FilePath  string `json:"file_path,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// UserResponseConfig holds user_response (interactive prompt) settings
type UserResponseConfig struct {
	Prompt         string `json:"prompt"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// HookConfig holds hook-node settings
type HookConfig struct {
	HookType string                 `json:"hook_type"` // shell|webhook
	Command  string                 `json:"command,omitempty"`
	URL      string                 `json:"url,omitempty"`
	Config   map[string]interface{} `json:"config,omitempty"`
}

// NotionConfig holds notion-node settings
type NotionConfig struct {
	Operation string `json:"operation"` // read_page|create_page|update_page
	PageID    string `json:"page_id,omitempty"`
	DatabaseID string `json:"database_id,omitempty"`
}

// TemplateJobConfig holds template_job settings
type TemplateJobConfig struct {
	Template   string `json:"template"`
	OutputPath string `json:"output_path,omitempty"`
}
