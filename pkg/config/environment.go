// pkg/config/environment.go

package config

import "fmt"

// Environment names the target deployment environment.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// ParseEnvironment converts a raw string into an Environment.
func ParseEnvironment(raw string) (Environment, error) {
	switch Environment(raw) {
	case EnvDev, EnvStaging, EnvProd:
		return Environment(raw), nil
	default:
		return "", fmt.Errorf("unknown environment %q (want dev, staging or prod)", raw)
	}
}
