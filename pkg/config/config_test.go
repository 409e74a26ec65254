package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	// Run from an empty directory so no checked-in config file leaks in.
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("Retrieval.TopK = %d, want 10", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MinSimilarity != 0.1 {
		t.Errorf("Retrieval.MinSimilarity = %v, want 0.1", cfg.Retrieval.MinSimilarity)
	}
	if cfg.Retrieval.MaxContextChunks != 8 {
		t.Errorf("Retrieval.MaxContextChunks = %d, want 8", cfg.Retrieval.MaxContextChunks)
	}
	if cfg.Retrieval.MaxDetailedChunks != 3 {
		t.Errorf("Retrieval.MaxDetailedChunks = %d, want 3", cfg.Retrieval.MaxDetailedChunks)
	}
	if cfg.Graph.Enabled {
		t.Error("Graph.Enabled should default to false")
	}
	if cfg.Milvus.VectorDim != 1536 {
		t.Errorf("Milvus.VectorDim = %d, want 1536", cfg.Milvus.VectorDim)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KB_AGENT_RETRIEVAL_TOPK", "25")
	t.Setenv("KB_AGENT_SERVER_PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Retrieval.TopK != 25 {
		t.Errorf("Retrieval.TopK = %d, want env override 25", cfg.Retrieval.TopK)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want env override 9000", cfg.Server.Port)
	}
}
