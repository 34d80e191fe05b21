package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Path:            "/",
			SignatureHeader: "X-Crisp-Signature",
		},
		Crisp: CrispConfig{
			APIBase:           "https://api.crisp.chat/v1",
			Tier:              "plugin",
			RequestsPerSecond: 5,
			MaxRetries:        3,
			TimeoutSeconds:    15,
		},
		NLU: NLUConfig{
			Enabled:       false,
			Provider:      "wit",
			APIBase:       "https://api.wit.ai",
			MinConfidence: 0.6,
			Labels: map[string]string{
				"report_bug":       "1",
				"airtime_missing":  "2",
				"check_balance":    "3",
				"buy_airtime":      "4",
				"view_transaction": "5",
				"talk_to_agent":    "6",
				"inquiry":          "11",
			},
		},
		Dialog: DialogConfig{
			FuzzyThreshold:          10,
			PollIntervalMillis:      500,
			AwaitTimeoutSeconds:     60,
			LongAwaitTimeoutSeconds: 120,
			ExitKeyword:             "exit",
			DedupeTTLSeconds:        600,
			DedupeMaxEntries:        10000,
		},
		Directory: DirectoryConfig{
			DBPath: "~/.crispdesk/directory.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
