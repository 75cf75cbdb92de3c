// Package config loads tool configuration from an optional CUE file,
// validated and defaulted against an embedded schema. Credentials are never
// part of the file; the API key comes from the environment.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// EnvAPIKey holds the index/model service credential. It is the only place
// the key is read from.
const EnvAPIKey = "CORPUS_API_KEY"

// Config is the decoded, validated configuration.
type Config struct {
	CorpusDir string `json:"corpus_dir"`
	DBPath    string `json:"db_path"`

	Index struct {
		BaseURL string `json:"base_url"`
		StoreID string `json:"store_id"`
	} `json:"index"`

	Model struct {
		BaseURL string `json:"base_url"`
	} `json:"model"`

	Ingest struct {
		Concurrency  int `json:"concurrency"`
		MaxTransient int `json:"max_transient"`
		UploadTokens int `json:"upload_tokens"`
	} `json:"ingest"`

	Quotas struct {
		RPM int `json:"rpm"`
		TPM int `json:"tpm"`
		RPD int `json:"rpd"`
	} `json:"quotas"`

	Breaker struct {
		WindowSeconds   int     `json:"window_seconds"`
		Threshold       float64 `json:"threshold"`
		CooldownSeconds int     `json:"cooldown_seconds"`
		MinEvents       int     `json:"min_events"`
	} `json:"breaker"`

	Search struct {
		TopK int    `json:"top_k"`
		Mode string `json:"mode"`
	} `json:"search"`

	GlossaryPath   string   `json:"glossary_path"`
	MetadataLevels []string `json:"metadata_levels"`
}

// Load reads path (may be "" or absent for pure defaults), unifies it with
// the schema, and decodes the result. Constraint violations surface as
// errors with CUE's field positions.
func Load(path string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("internal: config schema: %w", err)
	}

	value := schema
	if path != "" {
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			// Missing file is not an error; defaults apply.
		} else if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		} else {
			user := ctx.CompileBytes(raw, cue.Filename(path))
			if err := user.Err(); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			value = schema.Unify(user)
		}
	}

	if err := value.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// APIKey returns the service credential from the environment.
func APIKey() (string, error) {
	key := os.Getenv(EnvAPIKey)
	if key == "" {
		return "", fmt.Errorf("%s is not set", EnvAPIKey)
	}
	return key, nil
}
