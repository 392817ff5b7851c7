package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. A missing file is not an error.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

func getEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func getEnvInt(key string) (int, bool) {
	v, ok := getEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// applyEnv overlays environment variables on top of file values.
func applyEnv(cfg *AppConfig) {
	if v, ok := getEnv("RAG_ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := getEnv("RAG_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := getEnv("RAG_EMBEDDER"); ok {
		cfg.Embedder.Type = v
	}
	if v, ok := getEnv("RAG_VECTOR_STORE"); ok {
		cfg.VectorStore.Type = v
	}
	if v, ok := getEnv("RAG_COLLECTION"); ok {
		cfg.VectorStore.Collection = v
	}
	if v, ok := getEnv("RAG_SQLITE_PATH"); ok {
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		cfg.VectorStore.SQLite.Path = v
	}

	host, hostOK := getEnv("CHROMA_HOST")
	port, portOK := getEnvInt("CHROMA_PORT")
	if hostOK || portOK {
		if cfg.VectorStore.Chroma == nil {
			cfg.VectorStore.Chroma = &ChromaConfig{}
		}
		if hostOK {
			cfg.VectorStore.Chroma.Host = host
		}
		if portOK {
			cfg.VectorStore.Chroma.Port = port
		}
	}

	url, urlOK := getEnv("QDRANT_URL")
	key, keyOK := getEnv("QDRANT_API_KEY")
	if urlOK || keyOK {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if urlOK {
			cfg.VectorStore.Qdrant.URL = url
		}
		if keyOK {
			cfg.VectorStore.Qdrant.APIKey = key
		}
	}

	mhost, mhostOK := getEnv("MILVUS_HOST")
	mport, mportOK := getEnvInt("MILVUS_PORT")
	if mhostOK || mportOK {
		if cfg.VectorStore.Milvus == nil {
			cfg.VectorStore.Milvus = &MilvusConfig{}
		}
		if mhostOK {
			cfg.VectorStore.Milvus.Host = mhost
		}
		if mportOK {
			cfg.VectorStore.Milvus.Port = mport
		}
	}
}
