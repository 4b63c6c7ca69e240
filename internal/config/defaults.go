package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:         "info",
			LogFormat:        "text",
			MaxParallelTools: 4,
		},
		Storage: StorageConfig{
			DBPath: "~/.pricebot/pricebot.db",
		},
		Catalog: CatalogConfig{
			Timezone: "Local",
		},
		Indicators: IndicatorsConfig{
			TimeoutSeconds: 30,
		},
		Delivery: DeliveryConfig{
			Driver:       "log",
			SourceLabel:  "DALL-E",
			SettleMillis: 1000,
			Redis: RedisConfig{
				URL:    "redis://localhost:6379/0",
				Stream: "pricebot:images",
				MaxLen: 10000,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		MCP: MCPConfig{
			Name:           "pricebot",
			Version:        "0.1.0",
			ConversationID: "mcp",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		LLM: LLMConfig{
			Model:     "gpt-4o",
			MaxRounds: 5,
		},
	}
}
