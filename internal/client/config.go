package client

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Base URLs used when no explicit address is configured.
const (
	DefaultLocalURL = "http://localhost:8000"
	EnvLocal        = "local"
	EnvProduction   = "production"
)

// Settings is the resolved client configuration.
type Settings struct {
	APIURL string
	APIKey string
}

// LoadDotEnv loads variables from the given files, ignoring missing ones.
func LoadDotEnv(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// NewViper returns a viper instance reading PDFSHIFT_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PDFSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("env", EnvLocal)
	v.SetDefault("local_url", DefaultLocalURL)
	return v
}

// ResolveSettings picks the base URL: an explicit api_url wins, otherwise env
// selects between local_url and production_url.
func ResolveSettings(v *viper.Viper) (Settings, error) {
	s := Settings{APIKey: v.GetString("api_key")}
	if u := v.GetString("api_url"); u != "" {
		s.APIURL = strings.TrimRight(u, "/")
		return s, nil
	}
	switch env := strings.ToLower(v.GetString("env")); env {
	case EnvLocal, "":
		s.APIURL = v.GetString("local_url")
	case EnvProduction:
		s.APIURL = v.GetString("production_url")
		if s.APIURL == "" {
			return s, fmt.Errorf("production environment selected but PDFSHIFT_PRODUCTION_URL is not set")
		}
	default:
		return s, fmt.Errorf("unknown environment %q (want %q or %q)", env, EnvLocal, EnvProduction)
	}
	s.APIURL = strings.TrimRight(s.APIURL, "/")
	return s, nil
}
