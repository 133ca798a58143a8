package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
		GRPCPort string
	}
	LLM struct {
		BaseURL        string
		APIKey         string
		Model          string
		TimeoutSeconds int
		RatePerSecond  float64
		MaxRetries     int
	}
	Discussion struct {
		MaxRounds        int
		IdleGraceMs      int
		ChainProbability float64
		TimeScale        float64
		Fallback         string
	}
	Stream struct {
		TokenSecret string
		TokenTTLMin int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.grpc_port", 9090)

	v.SetDefault("llm.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.rate_per_second", 2.0)
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("discussion.max_rounds", 25)
	v.SetDefault("discussion.idle_grace_ms", 2500)
	v.SetDefault("discussion.chain_probability", 0.4)
	v.SetDefault("discussion.time_scale", 1.0)

	v.SetDefault("stream.token_ttl_min", 120)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.grpc_port", "GRPC_PORT")

	v.BindEnv("llm.base_url", "LLM_BASE_URL")
	v.BindEnv("llm.api_key", "DEEPSEEK_API_KEY", "LLM_API_KEY")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("llm.timeout_seconds", "LLM_TIMEOUT_SECONDS")
	v.BindEnv("llm.rate_per_second", "LLM_RATE_PER_SECOND")
	v.BindEnv("llm.max_retries", "LLM_MAX_RETRIES")

	v.BindEnv("discussion.max_rounds", "DISCUSSION_MAX_ROUNDS")
	v.BindEnv("discussion.idle_grace_ms", "DISCUSSION_IDLE_GRACE_MS")
	v.BindEnv("discussion.chain_probability", "DISCUSSION_CHAIN_PROBABILITY")
	v.BindEnv("discussion.time_scale", "DISCUSSION_TIME_SCALE")
	v.BindEnv("discussion.fallback_utterance", "DISCUSSION_FALLBACK_UTTERANCE")

	v.BindEnv("stream.token_secret", "STREAM_TOKEN_SECRET")
	v.BindEnv("stream.token_ttl_min", "STREAM_TOKEN_TTL_MIN")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.GRPCPort = toString(v.Get("server.grpc_port"))

	c.LLM.BaseURL = v.GetString("llm.base_url")
	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Model = v.GetString("llm.model")
	c.LLM.TimeoutSeconds = v.GetInt("llm.timeout_seconds")
	c.LLM.RatePerSecond = v.GetFloat64("llm.rate_per_second")
	c.LLM.MaxRetries = v.GetInt("llm.max_retries")

	c.Discussion.MaxRounds = v.GetInt("discussion.max_rounds")
	c.Discussion.IdleGraceMs = v.GetInt("discussion.idle_grace_ms")
	c.Discussion.ChainProbability = v.GetFloat64("discussion.chain_probability")
	c.Discussion.TimeScale = v.GetFloat64("discussion.time_scale")
	c.Discussion.Fallback = v.GetString("discussion.fallback_utterance")

	c.Stream.TokenSecret = v.GetString("stream.token_secret")
	c.Stream.TokenTTLMin = v.GetInt("stream.token_ttl_min")

	log.Info().Str("port", c.Server.Port).Str("llm_base_url", c.LLM.BaseURL).Str("model", c.LLM.Model).
		Bool("llm_key_set", c.LLM.APIKey != "").Msg("config loaded")
	return c
}

func toString(v any) string { return fmt.Sprint(v) }
