package config

// Config is the full runtime configuration for the scout daemon.
type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Sources   SourcesConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	MaxFetchers   int
	MinConfidence float64
}

// SourcesConfig configures the fetcher catalog. The API keys are optional;
// a key-gated fetcher without its key reports NOT_FOUND and routing falls
// through to keyless sources.
type SourcesConfig struct {
	NewsAPIKey  string
	NYTBooksKey string
	RSSFeeds    []string
	WebPages    []string
	CorpusDir   string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "mistral-nemo",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			MaxFetchers:   3,
			MinConfidence: 0.5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.scout.app). On Linux the
// backend is a JSON file at $XDG_CONFIG_HOME/scout/config.json.
//
// Environment variables (SCOUT_*) override backend values on all platforms.
// API keys are read from the environment only and never touch the backend.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
