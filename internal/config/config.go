package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

var _ model.ChatModel = (*ark.ChatModel)(nil)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Market MarketConfig
	Chat   ChatConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	market, err := loadMarketConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Market: market,
		Chat:   loadChatConfig(),
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

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// HistoryLimit caps how many stored messages are replayed to the model; 0 replays everything.
	HistoryLimit int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建模型实例。工具在 ai.NewService 中绑定。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + Model or an AK/SK pair")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return chatModel, nil
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 0
	if limit, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if limit != nil && *limit > 0 {
		historyLimit = *limit
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		HistoryLimit: historyLimit,
	}, nil
}

// MarketConfig 描述行情数据源配置。
type MarketConfig struct {
	BaseURL    string
	APIKey     string
	Currency   string
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
}

// DefaultMarketConfig returns the settings used when no MARKET_* variables are set.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		BaseURL:    "https://api.coingecko.com/api/v3",
		Currency:   "usd",
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		CacheTTL:   30 * time.Second,
	}
}

func loadMarketConfig() (MarketConfig, error) {
	cfg := DefaultMarketConfig()
	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("COINGECKO_BASE_URL", cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(os.Getenv("COINGECKO_API_KEY"))
	cfg.Currency = strings.ToLower(getEnvOrDefault("MARKET_CURRENCY", cfg.Currency))

	timeout, err := parseOptionalIntEnv("MARKET_TIMEOUT_SECONDS")
	if err != nil {
		return MarketConfig{}, err
	}
	if timeout != nil {
		if *timeout < 1 {
			return MarketConfig{}, fmt.Errorf("invalid MARKET_TIMEOUT_SECONDS value %d: must be positive", *timeout)
		}
		cfg.Timeout = time.Duration(*timeout) * time.Second
	}

	retries, err := parseOptionalIntEnv("MARKET_MAX_RETRIES")
	if err != nil {
		return MarketConfig{}, err
	}
	if retries != nil {
		// 至少请求一次。
		cfg.MaxRetries = max(*retries, 1)
	}

	ttl, err := parseOptionalIntEnv("MARKET_CACHE_TTL_SECONDS")
	if err != nil {
		return MarketConfig{}, err
	}
	if ttl != nil {
		cfg.CacheTTL = time.Duration(max(*ttl, 0)) * time.Second
	}

	return cfg, nil
}

// ChatConfig 描述会话存储配置。
type ChatConfig struct {
	// TranscriptDir enables writing finalized transcripts as JSON files when non-empty.
	TranscriptDir string
}

func loadChatConfig() ChatConfig {
	return ChatConfig{TranscriptDir: strings.TrimSpace(os.Getenv("CHAT_TRANSCRIPT_DIR"))}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
