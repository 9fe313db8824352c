// Package config provides environment-variable driven runtime configuration
// for the proxy, following the teacher's flag+env+default chain.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultListenURL                     = ":9879"
	DefaultLogLevel                      = "info"
	DefaultTransport                     = "graph"
	DefaultModel                         = "m365-copilot"
	DefaultTimeZone                      = "UTC"
	DefaultConversationTTLMinutes        = 60
	DefaultMaxAdditionalContextMessages  = 16
	DefaultInvocationTimeoutSeconds      = 120
	DefaultKeepAliveSeconds              = 15
)

// GraphConfig configures the REST/SSE upstream transport.
type GraphConfig struct {
	BaseURL                   string
	CreateConversationPath    string
	ChatPathTemplate          string
	ChatOverStreamPathTemplate string
}

// SubstrateConfig configures the WebSocket hub protocol transport.
type SubstrateConfig struct {
	HubPath                string
	Source                 string
	QuoteSourceInQuery      bool
	Scenario                string
	Origin                  string
	Product                 string
	AgentHost               string
	LicenseType             string
	Agent                   string
	Variants                string
	ClientPlatform          string
	ProductThreadType       string
	InvocationTimeoutSeconds int
	KeepAliveSeconds        int
	OptionsSets             []string
	AllowedMessageTypes     []string
	InvocationTarget        string
	InvocationType          string
	Locale                  string
	ExperienceType          string
	EntityAnnotationTypes   []string
}

// Config is the top-level runtime configuration, authoritative key names
// per spec.md §6.
type Config struct {
	ListenURL    string
	LogLevel     string
	AdminAPIKey  string

	Transport string
	Graph     GraphConfig
	Substrate SubstrateConfig

	DefaultModel                        string
	DefaultTimeZone                     string
	ConversationTTLMinutes               int
	MaxAdditionalContextMessages         int
	IncludeConversationIDInResponseBody  bool
	IgnoreIncomingAuthorizationHeader    bool

	// TokenFilePath and TokenAcquireCommand configure internal/tokenprovider.
	TokenFilePath      string
	TokenAcquireCommand string
}

// Load reads configuration from environment variables, applying defaults.
// It first attempts to load a .env file from the working directory (ignored
// if absent), matching Desarso-godantic/richinex-ariadne's dev bootstrapping.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenURL:   getEnv("M365PROXY_LISTEN_URL", DefaultListenURL),
		LogLevel:    getEnv("M365PROXY_LOG_LEVEL", DefaultLogLevel),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),

		Transport: getEnv("M365PROXY_TRANSPORT", DefaultTransport),
		Graph: GraphConfig{
			BaseURL:                    getEnv("M365PROXY_GRAPH_BASE_URL", "https://graph.microsoft.com"),
			CreateConversationPath:     getEnv("M365PROXY_CREATE_CONVERSATION_PATH", "/copilot/v1.0/conversations"),
			ChatPathTemplate:           getEnv("M365PROXY_CHAT_PATH_TEMPLATE", "/copilot/v1.0/conversations/{conversationId}/messages"),
			ChatOverStreamPathTemplate: getEnv("M365PROXY_CHAT_STREAM_PATH_TEMPLATE", "/copilot/v1.0/conversations/{conversationId}/messages/stream"),
		},
		Substrate: SubstrateConfig{
			HubPath:                  getEnv("M365PROXY_SUBSTRATE_HUB_PATH", "wss://substrate.office.com/m365Copilot/chathub"),
			Source:                   getEnv("M365PROXY_SUBSTRATE_SOURCE", "m365proxy"),
			QuoteSourceInQuery:       getEnvBool("M365PROXY_SUBSTRATE_QUOTE_SOURCE", false),
			Scenario:                 getEnv("M365PROXY_SUBSTRATE_SCENARIO", "copilot"),
			Origin:                   getEnv("M365PROXY_SUBSTRATE_ORIGIN", "https://m365.cloud.microsoft"),
			Product:                  getEnv("M365PROXY_SUBSTRATE_PRODUCT", "copilot"),
			AgentHost:                getEnv("M365PROXY_SUBSTRATE_AGENT_HOST", ""),
			LicenseType:              getEnv("M365PROXY_SUBSTRATE_LICENSE_TYPE", ""),
			Agent:                    getEnv("M365PROXY_SUBSTRATE_AGENT", ""),
			Variants:                 getEnv("M365PROXY_SUBSTRATE_VARIANTS", ""),
			ClientPlatform:           getEnv("M365PROXY_SUBSTRATE_CLIENT_PLATFORM", "web"),
			ProductThreadType:        getEnv("M365PROXY_SUBSTRATE_PRODUCT_THREAD_TYPE", "Default"),
			InvocationTimeoutSeconds: getEnvInt("M365PROXY_SUBSTRATE_INVOCATION_TIMEOUT_SECONDS", DefaultInvocationTimeoutSeconds),
			KeepAliveSeconds:        getEnvInt("M365PROXY_SUBSTRATE_KEEPALIVE_SECONDS", DefaultKeepAliveSeconds),
			OptionsSets:             getEnvList("M365PROXY_SUBSTRATE_OPTIONS_SETS", nil),
			AllowedMessageTypes:     getEnvList("M365PROXY_SUBSTRATE_ALLOWED_MESSAGE_TYPES", []string{"Chat", "Disengaged"}),
			InvocationTarget:        getEnv("M365PROXY_SUBSTRATE_INVOCATION_TARGET", "chat"),
			InvocationType:          getEnv("M365PROXY_SUBSTRATE_INVOCATION_TYPE", "1"),
			Locale:                  getEnv("M365PROXY_SUBSTRATE_LOCALE", "en-US"),
			ExperienceType:          getEnv("M365PROXY_SUBSTRATE_EXPERIENCE_TYPE", "Copilot"),
			EntityAnnotationTypes:   getEnvList("M365PROXY_SUBSTRATE_ENTITY_ANNOTATION_TYPES", nil),
		},

		DefaultModel:                       getEnv("M365PROXY_DEFAULT_MODEL", DefaultModel),
		DefaultTimeZone:                    getEnv("M365PROXY_DEFAULT_TIMEZONE", DefaultTimeZone),
		ConversationTTLMinutes:              getEnvInt("M365PROXY_CONVERSATION_TTL_MINUTES", DefaultConversationTTLMinutes),
		MaxAdditionalContextMessages:        getEnvInt("M365PROXY_MAX_ADDITIONAL_CONTEXT_MESSAGES", DefaultMaxAdditionalContextMessages),
		IncludeConversationIDInResponseBody: getEnvBool("M365PROXY_INCLUDE_CONVERSATION_ID_IN_BODY", false),
		IgnoreIncomingAuthorizationHeader:   getEnvBool("M365PROXY_IGNORE_INCOMING_AUTHORIZATION_HEADER", false),

		TokenFilePath:       getEnv("M365PROXY_TOKEN_FILE_PATH", defaultTokenFilePath()),
		TokenAcquireCommand: getEnv("M365PROXY_TOKEN_ACQUIRE_COMMAND", ""),
	}
}

func defaultTokenFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".m365proxy-token.json"
	}
	return home + "/.m365proxy/token.json"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
