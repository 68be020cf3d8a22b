package core

import (
	"fmt"
	"strings"
)

// Environment represents the deployment environment of the service.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

// IsProduction reports whether the environment corresponds to production.
func (e Environment) IsProduction() bool {
	return e == Production
}

// Decode lets envconfig parse ENVIRONMENT directly into an Environment.
// Unknown values are rejected so a typo cannot silently enable debug output in production.
func (e *Environment) Decode(value string) error {
	parsed, ok := lookupEnvironment(value)
	if !ok {
		return fmt.Errorf("unknown environment %q", value)
	}
	*e = parsed
	return nil
}

// ParseEnvironment normalises v into one of the known environments, falling back to Development.
func ParseEnvironment(v string) Environment {
	if parsed, ok := lookupEnvironment(v); ok {
		return parsed
	}
	return Development
}

func lookupEnvironment(v string) (Environment, bool) {
	switch Environment(strings.ToLower(strings.TrimSpace(v))) {
	case Production, "prod":
		return Production, true
	case Staging:
		return Staging, true
	case Testing, "test":
		return Testing, true
	case Development, "dev", "":
		return Development, true
	default:
		return "", false
	}
}
