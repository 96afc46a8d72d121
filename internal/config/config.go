package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/lxyhes/iflow-engine/pkg/types"
)

// Default tuning values applied when no source sets them.
const (
	DefaultBackendURL    = "http://localhost:7800"
	DefaultModel         = "qwen-coder"
	DefaultPersona       = "assistant"
	DefaultTopK          = 5
	DefaultAlpha         = 0.6
	DefaultMinSimilarity = 0.3
	DefaultCacheTTLSec   = 300
)

// Load loads configuration from multiple sources (priority order):
//  1. Global config (~/.config/iflow/iflow.json or .jsonc)
//  2. Project config (<dir>/.iflow/iflow.json or .jsonc)
//  3. IFLOW_CONFIG file
//  4. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)

	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "iflow.json"))
	loadOnce(filepath.Join(globalPath, "iflow.jsonc"))

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".iflow")
		loadOnce(filepath.Join(projectConfigDir, "iflow.json"))
		loadOnce(filepath.Join(projectConfigDir, "iflow.jsonc"))
	}

	if configPath := os.Getenv("IFLOW_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	return config, nil
}

// loadConfigFile loads a single config file with {env:VAR} interpolation.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)
	data = interpolate(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate processes {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(varName)))
	})
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.BackendURL != "" {
		target.BackendURL = source.BackendURL
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.Persona != "" {
		target.Persona = source.Persona
	}
	if source.PersonaFile != "" {
		target.PersonaFile = source.PersonaFile
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Retrieval != nil {
		if target.Retrieval == nil {
			target.Retrieval = &types.RetrievalConfig{}
		}
		if source.Retrieval.TopK != 0 {
			target.Retrieval.TopK = source.Retrieval.TopK
		}
		if source.Retrieval.Alpha != 0 {
			target.Retrieval.Alpha = source.Retrieval.Alpha
		}
		if source.Retrieval.MinSimilarity != 0 {
			target.Retrieval.MinSimilarity = source.Retrieval.MinSimilarity
		}
		if source.Retrieval.CacheTTLSec != 0 {
			target.Retrieval.CacheTTLSec = source.Retrieval.CacheTTLSec
		}
	}
}

// applyEnvOverrides applies environment variable overrides (highest priority).
func applyEnvOverrides(config *types.Config) {
	if url := os.Getenv("IFLOW_BACKEND_URL"); url != "" {
		config.BackendURL = url
	}
	if model := os.Getenv("IFLOW_MODEL"); model != "" {
		config.Model = model
	}
	if persona := os.Getenv("IFLOW_PERSONA"); persona != "" {
		config.Persona = persona
	}
	if level := os.Getenv("IFLOW_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if ttl := os.Getenv("IFLOW_RETRIEVAL_TTL"); ttl != "" {
		if sec, err := strconv.Atoi(ttl); err == nil {
			if config.Retrieval == nil {
				config.Retrieval = &types.RetrievalConfig{}
			}
			config.Retrieval.CacheTTLSec = sec
		}
	}
}

// applyDefaults fills unset fields with defaults.
func applyDefaults(config *types.Config) {
	if config.BackendURL == "" {
		config.BackendURL = DefaultBackendURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Persona == "" {
		config.Persona = DefaultPersona
	}
	if config.Retrieval == nil {
		config.Retrieval = &types.RetrievalConfig{}
	}
	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = DefaultTopK
	}
	if config.Retrieval.Alpha == 0 {
		config.Retrieval.Alpha = DefaultAlpha
	}
	if config.Retrieval.MinSimilarity == 0 {
		config.Retrieval.MinSimilarity = DefaultMinSimilarity
	}
	if config.Retrieval.CacheTTLSec == 0 {
		config.Retrieval.CacheTTLSec = DefaultCacheTTLSec
	}
}

// LoadPersonas reads the persona catalog referenced by the config.
// A missing file is not an error; the built-in persona applies.
func LoadPersonas(config *types.Config) ([]types.Persona, error) {
	if config.PersonaFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(config.PersonaFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var catalog struct {
		Personas []types.Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse persona catalog: %w", err)
	}

	return catalog.Personas, nil
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
