package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"yuzu/interview/internal/turn"
)

type Config struct {
	Server struct {
		Port           string
		LogLevel       string
		GRPCHealthAddr string
		PublicWSBase   string
	}
	Auth struct {
		TokenSecret   string
		TokenTTLMin   int
		TokenSkewSecs int
	}
	LLM struct {
		Provider     string
		APIKey       string
		BaseURL      string
		Model        string
		SystemPrompt string
		MaxTokens    int
		Temperature  float64
		TimeoutSecs  int
		EchoDelayMs  int
	}
	Turn   turn.Config
	Client struct {
		ServerURL string
		DebugAddr string
		Script    string
	}
}

// Providers accepted in LLM_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.grpc_health_addr", ":9090")

	v.SetDefault("auth.token_ttl_min", 120)
	v.SetDefault("auth.token_skew_secs", 30)

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.echo_delay_ms", 60)

	d := turn.DefaultConfig()
	v.SetDefault("turn.silence_ms", d.SilenceMs)
	v.SetDefault("turn.hangover_ms", d.HangoverMs)
	v.SetDefault("turn.max_utterance_ms", d.MaxUtteranceMs)
	v.SetDefault("turn.min_chars", d.MinCharsToCommit)
	v.SetDefault("turn.done_grace_ms", d.DoneGraceMs)
	v.SetDefault("turn.error_grace_ms", d.ErrorGraceMs)
	v.SetDefault("turn.restart_delay_ms", d.RestartDelayMs)

	v.SetDefault("client.server_url", "http://localhost:8080")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.grpc_health_addr", "GRPC_HEALTH_ADDR")
	v.BindEnv("server.public_ws_base", "PUBLIC_WS_BASE")

	v.BindEnv("auth.token_secret", "AUTH_TOKEN_SECRET")
	v.BindEnv("auth.token_ttl_min", "AUTH_TOKEN_TTL_MIN")
	v.BindEnv("auth.token_skew_secs", "AUTH_TOKEN_SKEW_SECS")

	v.BindEnv("llm.provider", "LLM_PROVIDER")
	v.BindEnv("llm.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.base_url", "OPENAI_BASE_URL")
	v.BindEnv("llm.model", "OPENAI_MODEL")
	v.BindEnv("llm.system_prompt", "LLM_SYSTEM_PROMPT")
	v.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")
	v.BindEnv("llm.temperature", "LLM_TEMPERATURE")
	v.BindEnv("llm.timeout_secs", "LLM_TIMEOUT_SECS")
	v.BindEnv("llm.echo_delay_ms", "LLM_ECHO_DELAY_MS")

	v.BindEnv("turn.silence_ms", "TURN_SILENCE_MS")
	v.BindEnv("turn.hangover_ms", "TURN_HANGOVER_MS")
	v.BindEnv("turn.max_utterance_ms", "TURN_MAX_UTTERANCE_MS")
	v.BindEnv("turn.min_chars", "TURN_MIN_CHARS")
	v.BindEnv("turn.done_grace_ms", "TURN_DONE_GRACE_MS")
	v.BindEnv("turn.error_grace_ms", "TURN_ERROR_GRACE_MS")
	v.BindEnv("turn.restart_delay_ms", "TURN_RESTART_DELAY_MS")

	v.BindEnv("client.server_url", "CLIENT_SERVER_URL")
	v.BindEnv("client.debug_addr", "CLIENT_DEBUG_ADDR")
	v.BindEnv("client.script", "CLIENT_SCRIPT")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.GRPCHealthAddr = v.GetString("server.grpc_health_addr")
	c.Server.PublicWSBase = v.GetString("server.public_ws_base")

	c.Auth.TokenSecret = v.GetString("auth.token_secret")
	c.Auth.TokenTTLMin = v.GetInt("auth.token_ttl_min")
	c.Auth.TokenSkewSecs = v.GetInt("auth.token_skew_secs")

	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Provider = strings.ToLower(v.GetString("llm.provider"))
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderEcho
		if c.LLM.APIKey != "" {
			c.LLM.Provider = ProviderOpenAI
		}
	}
	c.LLM.BaseURL = v.GetString("llm.base_url")
	c.LLM.Model = v.GetString("llm.model")
	c.LLM.SystemPrompt = v.GetString("llm.system_prompt")
	c.LLM.MaxTokens = v.GetInt("llm.max_tokens")
	c.LLM.Temperature = v.GetFloat64("llm.temperature")
	c.LLM.TimeoutSecs = v.GetInt("llm.timeout_secs")
	c.LLM.EchoDelayMs = v.GetInt("llm.echo_delay_ms")

	c.Turn = turn.Config{
		SilenceMs:        v.GetInt("turn.silence_ms"),
		HangoverMs:       v.GetInt("turn.hangover_ms"),
		MaxUtteranceMs:   v.GetInt("turn.max_utterance_ms"),
		MinCharsToCommit: v.GetInt("turn.min_chars"),
		DoneGraceMs:      v.GetInt("turn.done_grace_ms"),
		ErrorGraceMs:     v.GetInt("turn.error_grace_ms"),
		RestartDelayMs:   v.GetInt("turn.restart_delay_ms"),
	}

	c.Client.ServerURL = v.GetString("client.server_url")
	c.Client.DebugAddr = v.GetString("client.debug_addr")
	c.Client.Script = v.GetString("client.script")
	return c
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case ProviderEcho:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
		if c.LLM.Model == "" {
			errs = append(errs, errors.New("OPENAI_MODEL must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", c.LLM.MaxTokens))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE must be within [0, 2], got %v", c.LLM.Temperature))
	}
	if c.Auth.TokenSecret != "" && c.Auth.TokenTTLMin <= 0 {
		errs = append(errs, fmt.Errorf("AUTH_TOKEN_TTL_MIN must be positive, got %d", c.Auth.TokenTTLMin))
	}
	if err := c.Turn.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) TokenTTL() time.Duration { return time.Duration(c.Auth.TokenTTLMin) * time.Minute }

func (c Config) LLMTimeout() time.Duration { return time.Duration(c.LLM.TimeoutSecs) * time.Second }

func toString(v any) string { return fmt.Sprint(v) }
