package model

// ================ Config ================
type ConversationConfig struct {
	// TTL of "0" keeps history forever; retention is handled outside the service.
	TTL string `envconfig:"CONVERSATION_TTL" default:"0"`
	// MaxHistory caps how many stored messages are replayed into a turn, 0 means all.
	MaxHistory int `envconfig:"CONVERSATION_MAX_HISTORY" default:"0"`
}

type RouterModelConfig struct {
	// Mode selects the decision mechanism: "model" (tool-calling LLM) or "rules".
	Mode        string  `envconfig:"ROUTER_MODE" default:"model"`
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0"`
	MaxPasses   int     `envconfig:"ROUTER_MAX_PASSES" default:"15"`
	WebFallback bool    `envconfig:"ROUTER_WEB_FALLBACK" default:"true"`
}

type AnswerModelConfig struct {
	Model       string  `envconfig:"ANSWER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ANSWER_MAX_TOKENS" default:"2048"`
	Temperature float32 `envconfig:"ANSWER_TEMPERATURE" default:"0.3"`
}

type RetrievalConfig struct {
	TopK           int    `envconfig:"RETRIEVAL_TOP_K" default:"4"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	// Backend is "file" (versioned per-book directories) or "pgvector".
	Backend     string `envconfig:"INDEX_BACKEND" default:"file"`
	StorePath   string `envconfig:"VECTOR_STORE_PATH" default:"./vector_store"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
}

type WebSearchConfig struct {
	APIKey  string `envconfig:"SERPER_API_KEY" required:"true"`
	URL     string `envconfig:"SERPER_URL" default:"https://google.serper.dev/search"`
	Country string `envconfig:"SERPER_GL" default:"us"`
	Locale  string `envconfig:"SERPER_HL" default:"en"`
	Results int    `envconfig:"SERPER_NUM" default:"10"`
	Timeout string `envconfig:"SERPER_TIMEOUT" default:"15s"`
}

type HistoryConfig struct {
	// Backend is "sqlite", "redis" or "memory".
	Backend    string `envconfig:"HISTORY_BACKEND" default:"sqlite"`
	SQLitePath string `envconfig:"HISTORY_SQLITE_PATH" default:"chat_history.db"`
}

type IngestionConfig struct {
	ChunkSize        int `envconfig:"INGEST_CHUNK_SIZE" default:"1000"`
	ChunkOverlap     int `envconfig:"INGEST_CHUNK_OVERLAP" default:"100"`
	EmbedBatch       int `envconfig:"INGEST_EMBED_BATCH" default:"100"`
	EmbedParallelism int `envconfig:"INGEST_EMBED_PARALLELISM" default:"4"`
	// JobRetention is how long a finished job stays queryable, "0" keeps it forever.
	JobRetention string `envconfig:"INGEST_JOB_RETENTION" default:"1h"`
}
