package services

import "net/http"

// Logger interface for service logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ServiceName identifies a capability a node handler can require
type ServiceName string

const (
	ServiceLLM     ServiceName = "llm"
	ServiceFiles   ServiceName = "files"
	ServiceMemory  ServiceName = "memory"
	ServiceAPIKeys ServiceName = "api_keys"
	ServiceNotion  ServiceName = "notion"
	ServiceHTTP    ServiceName = "http"
)

// Bundle carries the shared services handlers draw on. A nil field means
// the service is not configured; dispatch refuses nodes that require it.
type Bundle struct {
	LLM     LLM
	Files   *FileService
	Memory  *ConversationMemory
	APIKeys *APIKeyVault
	Notion  Notion
	HTTP    *http.Client
}

// Has reports whether the named service is configured
func (b *Bundle) Has(name ServiceName) bool {
	if b == nil {
		return false
	}
	switch name {
	case ServiceLLM:
		return b.LLM != nil
	case ServiceFiles:
		return b.Files != nil
	case ServiceMemory:
		return b.Memory != nil
	case ServiceAPIKeys:
		return b.APIKeys != nil
	case ServiceNotion:
		return b.Notion != nil
	case ServiceHTTP:
		return b.HTTP != nil
	}
	return false
}

// Missing returns the required services the bundle does not provide
func (b *Bundle) Missing(required []ServiceName) []ServiceName {
	var missing []ServiceName
	for _, name := range required {
		if !b.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
