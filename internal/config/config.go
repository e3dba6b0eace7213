package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret       string
		SessionTTLHours int
	}
	WebAuthn struct {
		RPID             string
		RPName           string
		Origins          string
		TimeoutSeconds   int
		UserVerification string
		Attestation      string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	Archive struct {
		Workers   int
		QueueSize int
	}
	AWS struct {
		Profile string
	}
}

// RPOrigins splits the comma-separated origin list.
func (c Config) RPOrigins() []string {
	parts := strings.Split(c.WebAuthn.Origins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("BIOSECURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/biosecure.db")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.sessionttlhours", 24)
	v.SetDefault("webauthn.rpid", "localhost")
	v.SetDefault("webauthn.rpname", "BioSecure - University Management System")
	v.SetDefault("webauthn.origins", "http://localhost:3000")
	v.SetDefault("webauthn.timeoutseconds", 60)
	v.SetDefault("webauthn.userverification", "preferred")
	v.SetDefault("webauthn.attestation", "none")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "ceremony-artifacts")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("archive.workers", 2)
	v.SetDefault("archive.queuesize", 64)
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
