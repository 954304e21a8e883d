package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where memlayer stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Embedding provider configuration
	AIBaseURL        string // MEMLAYER_AI_BASE_URL (default: https://api.openai.com/v1)
	AIAPIKey         string // MEMLAYER_AI_API_KEY
	AIEmbeddingModel string // MEMLAYER_AI_EMBEDDING_MODEL (default: text-embedding-3-small)
	// EmbeddingDim is the fixed dimensionality of memory embeddings.
	EmbeddingDim int // MEMLAYER_AI_EMBEDDING_DIM (default: 1536)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an embedding provider is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads the embedding provider configuration from MEMLAYER_*
// environment variables.
func (p *Profile) FromEnv() {
	p.AIBaseURL = getEnvOrDefault("MEMLAYER_AI_BASE_URL", "https://api.openai.com/v1")
	p.AIAPIKey = os.Getenv("MEMLAYER_AI_API_KEY")
	p.AIEmbeddingModel = getEnvOrDefault("MEMLAYER_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	if dim, err := strconv.Atoi(os.Getenv("MEMLAYER_AI_EMBEDDING_DIM")); err == nil && dim > 0 {
		p.EmbeddingDim = dim
	}
	if p.EmbeddingDim == 0 {
		p.EmbeddingDim = 1536
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Driver == "sqlite" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			return errors.Wrap(err, "failed to check data dir")
		}
		p.Data = dataDir
		if p.DSN == "" {
			dbFile := fmt.Sprintf("memlayer_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile)
		}
	} else if p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	return nil
}
