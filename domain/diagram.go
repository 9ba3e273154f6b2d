package domain

// DomainDiagram is the author-facing diagram as the compiler receives it.
// File parsing and persistence are the caller's concern.
type DomainDiagram struct {
	ID       string                 `json:"id,omitempty"`
	Nodes    []Node                 `json:"nodes"`
	Arrows   []Arrow                `json:"arrows"`
	Handles  []Handle               `json:"handles,omitempty"`
	Persons  map[string]Person      `json:"persons,omitempty"`
	APIKeys  map[string]string      `json:"api_keys,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Handle is a named port declared on a node
type Handle struct {
	ID        HandleID        `json:"id"`
	NodeID    NodeID          `json:"node_id"`
	Name      string          `json:"name"`
	Direction HandleDirection `json:"direction"`
}

// Arrow is an author-facing connection between two handles.
// Source must reference an output handle, Target an input handle.
type Arrow struct {
	ID        ArrowID                `json:"id"`
	Source    HandleID               `json:"source"`
	Target    HandleID               `json:"target"`
	Label     string                 `json:"label,omitempty"`
	Transform TransformRule          `json:"transform,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Person is a reusable LLM persona referenced by person_job nodes
type Person struct {
	ID           string   `json:"id"`
	LLM          LLMConfig `json:"llm"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}
