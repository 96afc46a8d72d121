// Package config provides configuration loading, merging, and path management
// for the iflow session engine.
//
// # Configuration Loading
//
// The Load function searches for and merges configuration from multiple
// sources in priority order:
//
//  1. Global config (~/.config/iflow/ - XDG compatible)
//  2. Project config (<dir>/.iflow/iflow.json or iflow.jsonc)
//  3. IFLOW_CONFIG file
//  4. Environment variables (IFLOW_BACKEND_URL, IFLOW_MODEL, IFLOW_PERSONA,
//     IFLOW_LOG_LEVEL, IFLOW_RETRIEVAL_TTL)
//
// More specific sources override more general ones; environment variables
// have the highest precedence. Unset fields fall back to package defaults,
// so a fully empty environment still yields a usable configuration.
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with Comments, processed with tidwall/jsonc)
// are accepted. Config values support {env:VAR_NAME} interpolation.
//
// # Persona Catalog
//
// An optional YAML persona catalog (personaFile) supplies named personas
// forwarded to the backend as the turn's persona tag.
package config
