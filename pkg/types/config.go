package types

// Config is the engine configuration assembled from config files and
// environment overrides. See internal/config for load order.
type Config struct {
	Schema string `json:"$schema,omitempty"`

	// BackendURL is the base URL of the agent backend.
	BackendURL string `json:"backendURL,omitempty"`

	// Model is the model name forwarded on every turn.
	Model string `json:"model,omitempty"`

	// Persona is the persona tag forwarded on every turn.
	Persona string `json:"persona,omitempty"`

	// PersonaFile points at an optional YAML persona catalog.
	PersonaFile string `json:"personaFile,omitempty"`

	Retrieval *RetrievalConfig `json:"retrieval,omitempty"`

	// LogLevel sets the minimum log level (DEBUG|INFO|WARN|ERROR).
	LogLevel string `json:"logLevel,omitempty"`
}

// RetrievalConfig tunes the context retrieval gate and cache.
type RetrievalConfig struct {
	TopK          int     `json:"topK,omitempty"`
	Alpha         float64 `json:"alpha,omitempty"`
	MinSimilarity float64 `json:"minSimilarity,omitempty"`
	CacheTTLSec   int     `json:"cacheTTLSec,omitempty"`
}

// Project identifies the workspace a turn runs against. Supplied by the
// surrounding application; the engine never creates or lists projects.
type Project struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Persona describes one entry of the persona catalog.
type Persona struct {
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}
