package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	arkembed "github.com/cloudwego/eino-ext/components/embedding/ark"
	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
)

// 支持的模型提供方。
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// 支持的向量索引后端。
const (
	BackendLocal    = "local"
	BackendPGVector = "pgvector"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	AI        AIConfig
	Catalog   CatalogConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Cache     CacheConfig
	Metrics   MetricsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	index, err := loadIndexConfig()
	if err != nil {
		return nil, err
	}

	retrieval, err := loadRetrievalConfig()
	if err != nil {
		return nil, err
	}

	cache, err := loadCacheConfig()
	if err != nil {
		return nil, err
	}

	metricsEnabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Log:       logCfg,
		AI:        ai,
		Catalog:   CatalogConfig{Path: strings.TrimSpace(os.Getenv("CARD_CATALOG"))},
		Index:     index,
		Retrieval: retrieval,
		Cache:     cache,
		Metrics:   MetricsConfig{Enabled: metricsEnabled},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level  slog.Level
	Format string
}

// NewLogger 按配置创建 slog 日志器。
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func loadLogConfig() (LogConfig, error) {
	cfg := LogConfig{Level: slog.LevelInfo, Format: "text"}

	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := cfg.Level.UnmarshalText([]byte(raw)); err != nil {
			return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
		}
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}
	cfg.Format = format
	return cfg, nil
}

// AIConfig 描述大模型与向量化模型相关配置。
type AIConfig struct {
	Provider          string
	EmbeddingProvider string
	APIKey            string
	AccessKey         string
	SecretKey         string
	BaseURL           string
	Region            string
	ChatModel         string
	EmbeddingModel    string
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	StreamResponse    bool
	MaxSteps          int
	Timeout           time.Duration

	// 向量化可以使用与对话不同的提供方，此时凭证单独保存。
	embeddingCreds providerCredentials
}

type providerCredentials struct {
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string
	Model     string
}

// Enabled 表示是否提供了对话模型必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.ChatModel != "" && hasCredentials(c.Provider, c.APIKey, c.AccessKey, c.SecretKey)
}

// EmbeddingEnabled 表示是否提供了向量化模型必需的密钥。
func (c AIConfig) EmbeddingEnabled() bool {
	creds := c.embeddingCreds
	return creds.Model != "" && hasCredentials(c.EmbeddingProvider, creds.APIKey, creds.AccessKey, creds.SecretKey)
}

func hasCredentials(provider, apiKey, accessKey, secretKey string) bool {
	if provider == ProviderArk {
		return apiKey != "" || (accessKey != "" && secretKey != "")
	}
	return apiKey != ""
}

// NewChatModel 使用配置创建一个支持工具调用的模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ToolCallingChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderArk:
		timeout := c.Timeout
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.ChatModel,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
			Timeout:     &timeout,
		})
	default:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.ChatModel,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
			Timeout:     c.Timeout,
		})
	}
}

// NewEmbedder 使用配置创建向量化模型实例。
func (c AIConfig) NewEmbedder(ctx context.Context) (embedding.Embedder, error) {
	if !c.EmbeddingEnabled() {
		return nil, fmt.Errorf("%s embedding 凭证或模型配置缺失", c.EmbeddingProvider)
	}

	creds := c.embeddingCreds
	switch c.EmbeddingProvider {
	case ProviderArk:
		timeout := c.Timeout
		return arkembed.NewEmbedder(ctx, &arkembed.EmbeddingConfig{
			BaseURL:   creds.BaseURL,
			Region:    creds.Region,
			APIKey:    creds.APIKey,
			AccessKey: creds.AccessKey,
			SecretKey: creds.SecretKey,
			Model:     creds.Model,
			Timeout:   &timeout,
		})
	default:
		return openaiembed.NewEmbedder(ctx, &openaiembed.EmbeddingConfig{
			APIKey:  creds.APIKey,
			BaseURL: creds.BaseURL,
			Model:   creds.Model,
			Timeout: c.Timeout,
		})
	}
}

// EmbeddingModelName 返回当前使用的向量化模型名，用于缓存键。
func (c AIConfig) EmbeddingModelName() string {
	return c.EmbeddingProvider + "/" + c.embeddingCreds.Model
}

func loadAIConfig() (AIConfig, error) {
	provider, err := parseProviderEnv("LLM_PROVIDER", ProviderOpenAI)
	if err != nil {
		return AIConfig{}, err
	}

	embeddingProvider, err := parseProviderEnv("EMBEDDING_PROVIDER", provider)
	if err != nil {
		return AIConfig{}, err
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		defaultTemperature := 0.7
		temperature = &defaultTemperature
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("LLM_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	maxSteps := 12
	if override, err := parseOptionalIntEnv("AGENT_MAX_STEPS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		// 至少需要一次模型调用、一次工具调用和最终回复。
		if *override < 3 {
			maxSteps = 3
		} else {
			maxSteps = *override
		}
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	chat := loadProviderCredentials(provider, false)
	embed := loadProviderCredentials(embeddingProvider, true)

	return AIConfig{
		Provider:          provider,
		EmbeddingProvider: embeddingProvider,
		APIKey:            chat.APIKey,
		AccessKey:         chat.AccessKey,
		SecretKey:         chat.SecretKey,
		BaseURL:           chat.BaseURL,
		Region:            chat.Region,
		ChatModel:         chat.Model,
		EmbeddingModel:    embed.Model,
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
		StreamResponse:    stream,
		MaxSteps:          maxSteps,
		Timeout:           timeout,
		embeddingCreds:    embed,
	}, nil
}

func loadProviderCredentials(provider string, forEmbedding bool) providerCredentials {
	if provider == ProviderArk {
		modelKey := "ARK_MODEL"
		if forEmbedding {
			modelKey = "ARK_EMBEDDING_MODEL"
		}
		return providerCredentials{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
			Model:     strings.TrimSpace(os.Getenv(modelKey)),
		}
	}

	modelName := getEnvOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini")
	if forEmbedding {
		modelName = getEnvOrDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-ada-002")
	}
	return providerCredentials{
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Model:   modelName,
	}
}

// CatalogConfig 描述卡片目录文件位置，为空时使用内置目录。
type CatalogConfig struct {
	Path string
}

// IndexConfig 描述向量索引的存储位置。
type IndexConfig struct {
	Backend     string
	Dir         string
	DatabaseURL string
	Table       string
}

func loadIndexConfig() (IndexConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("CARD_INDEX_BACKEND", BackendLocal))
	if backend != BackendLocal && backend != BackendPGVector {
		return IndexConfig{}, fmt.Errorf("invalid CARD_INDEX_BACKEND value %q", backend)
	}

	cfg := IndexConfig{
		Backend:     backend,
		Dir:         getEnvOrDefault("CARD_INDEX_DIR", "card_index"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Table:       getEnvOrDefault("CARD_INDEX_TABLE", "aac_cards"),
	}
	if backend == BackendPGVector && cfg.DatabaseURL == "" {
		return IndexConfig{}, fmt.Errorf("DATABASE_URL is required when CARD_INDEX_BACKEND=%s", BackendPGVector)
	}
	return cfg, nil
}

// RetrievalConfig 描述检索参数。
type RetrievalConfig struct {
	TopK int
}

func loadRetrievalConfig() (RetrievalConfig, error) {
	topK := 10
	if override, err := parseOptionalIntEnv("RETRIEVAL_TOP_K"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return RetrievalConfig{}, fmt.Errorf("invalid RETRIEVAL_TOP_K value %d: must be positive", *override)
		}
		topK = *override
	}
	return RetrievalConfig{TopK: topK}, nil
}

// CacheConfig 描述向量缓存（Redis）配置，Addr 为空时关闭缓存。
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Enabled 表示是否配置了 Redis。
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

func loadCacheConfig() (CacheConfig, error) {
	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return CacheConfig{}, err
	} else if override != nil {
		db = *override
	}

	ttl, err := parseDurationEnv("EMBEDDING_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return CacheConfig{}, err
	}

	return CacheConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		TTL:           ttl,
	}, nil
}

// MetricsConfig 控制 Prometheus 指标的暴露。
type MetricsConfig struct {
	Enabled bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseProviderEnv(key, defaultValue string) (string, error) {
	provider := strings.ToLower(getEnvOrDefault(key, defaultValue))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return "", fmt.Errorf("invalid %s value %q", key, provider)
	}
	return provider, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
