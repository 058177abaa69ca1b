package config

import "fmt"

// ============================================================================
// VECTOR STORE
// ============================================================================

// VectorProvider identifies a vector store implementation.
type VectorProvider string

const (
	// VectorChromem uses chromem-go for embedded vector storage.
	// Zero-config, no external dependencies. Best for development and
	// small deployments.
	VectorChromem VectorProvider = "chromem"

	// VectorQdrant uses Qdrant over gRPC.
	VectorQdrant VectorProvider = "qdrant"

	// VectorPinecone uses the Pinecone managed service.
	VectorPinecone VectorProvider = "pinecone"

	// VectorNone disables vector storage. Ingestion still extracts and
	// chunks but nothing is searchable; useful for extraction-only runs.
	VectorNone VectorProvider = "none"
)

// VectorStoreConfig selects and configures the vector store.
//
// Example YAML:
//
//	vector_store:
//	  provider: qdrant
//	  qdrant:
//	    host: qdrant.internal
//	    api_key: ${QDRANT_API_KEY}
type VectorStoreConfig struct {
	// Provider identifies which implementation to use.
	Provider VectorProvider `yaml:"provider,omitempty"`

	// Chromem configuration (used when Provider == "chromem").
	Chromem *ChromemConfig `yaml:"chromem,omitempty"`

	// Qdrant configuration (used when Provider == "qdrant").
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`

	// Pinecone configuration (used when Provider == "pinecone").
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
}

// ChromemConfig configures the embedded chromem store.
type ChromemConfig struct {
	// Path for file persistence. Empty means in-memory only.
	Path string `yaml:"path,omitempty"`

	// Compress enables gzip compression for persisted data.
	Compress bool `yaml:"compress,omitempty"`
}

// QdrantConfig configures a Qdrant connection.
type QdrantConfig struct {
	// Host of the Qdrant server.
	Host string `yaml:"host,omitempty"`

	// Port of the Qdrant gRPC interface. Default: 6334
	Port int `yaml:"port,omitempty"`

	// APIKey for Qdrant Cloud or secured deployments.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `yaml:"use_tls,omitempty"`
}

// PineconeConfig configures a Pinecone connection.
type PineconeConfig struct {
	// APIKey for the Pinecone project.
	APIKey string `yaml:"api_key,omitempty"`

	// IndexHost is the host of an existing serverless index. When empty the
	// index named IndexName is looked up (and created if missing).
	IndexHost string `yaml:"index_host,omitempty"`

	// IndexName of the Pinecone index. Default: docbrain
	IndexName string `yaml:"index_name,omitempty"`

	// Cloud for index creation (aws, gcp, azure). Default: aws
	Cloud string `yaml:"cloud,omitempty"`

	// Region for index creation. Default: us-east-1
	Region string `yaml:"region,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorChromem
	}
	if c.Provider == VectorChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
	if c.Chromem != nil && c.Chromem.Path == "" {
		c.Chromem.Path = ".docbrain/vectors"
	}
	if c.Qdrant != nil && c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Pinecone != nil {
		if c.Pinecone.IndexName == "" {
			c.Pinecone.IndexName = "docbrain"
		}
		if c.Pinecone.Cloud == "" {
			c.Pinecone.Cloud = "aws"
		}
		if c.Pinecone.Region == "" {
			c.Pinecone.Region = "us-east-1"
		}
	}
}

// Validate checks the configuration.
func (c *VectorStoreConfig) Validate() error {
	switch c.Provider {
	case VectorChromem, VectorNone:
		return nil
	case VectorQdrant:
		if c.Qdrant == nil {
			return fmt.Errorf("qdrant configuration is required")
		}
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	case VectorPinecone:
		if c.Pinecone == nil {
			return fmt.Errorf("pinecone configuration is required")
		}
		if c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone api_key is required")
		}
		return nil
	default:
		return fmt.Errorf("invalid provider %q (valid: chromem, qdrant, pinecone, none)", c.Provider)
	}
}

// Embedded returns true for in-process vector stores.
func (c *VectorStoreConfig) Embedded() bool {
	return c.Provider == VectorChromem
}
