package shared

import (
	"encoding/json"
	"fmt"
)

// Environment is the deployment environment embedded in access keys, events
// and connections. All four wire spellings are accepted and round-trip
// exactly.
type Environment string

const (
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "development"
	EnvLive        Environment = "live"
	EnvProduction  Environment = "production"
)

// ParseEnvironment validates a wire spelling.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvTest, EnvDevelopment, EnvLive, EnvProduction:
		return Environment(s), nil
	}
	return "", fmt.Errorf("invalid environment: %q", s)
}

func (e Environment) String() string { return string(e) }

// IsProductionLike reports whether the environment maps to live traffic.
func (e Environment) IsProductionLike() bool {
	return e == EnvLive || e == EnvProduction
}

func (e Environment) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(e))
}

func (e *Environment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	env, err := ParseEnvironment(s)
	if err != nil {
		return err
	}
	*e = env
	return nil
}
