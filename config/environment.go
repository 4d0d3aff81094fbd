package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"stage": environmentStaging,
	"stag":  environmentStaging,
}

// AppEnvironment returns APP_ENV normalised through the alias table,
// defaulting to development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolveConfigPath prefers config.<env>.yml next to path when that file
// exists, so one flag value works across deployments.
func ResolveConfigPath(path string) string {
	ext := filepath.Ext(path)
	envPath := strings.TrimSuffix(path, ext) + "." + AppEnvironment() + ext
	if info, err := os.Stat(envPath); err == nil && !info.IsDir() {
		return envPath
	}
	return path
}
