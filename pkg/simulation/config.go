package simulation

import (
	"strings"
	"sync"
)

// Config controls how the simulated node answers
type Config struct {
	// Canned responses keyed by command name (e.g. "buildInfo"), returned
	// verbatim as extended JSON instead of the stateful simulation
	Responses map[string]string

	Failures []ConfiguredFailure

	// Preconfigured node state
	ExistingReplicaSet *SimulatedReplicaSet
	ExistingUsers      []SimulatedUser

	mu sync.RWMutex
}

// NewConfig creates a new simulation configuration with sensible defaults
func NewConfig() *Config {
	config := &Config{
		Responses: make(map[string]string),
		Failures:  make([]ConfiguredFailure, 0),
	}

	config.setDefaultResponses()

	return config
}

func (c *Config) setDefaultResponses() {
	c.Responses["buildInfo"] = `{"version": "7.0.5", "gitVersion": "simulated", "ok": 1}`
}

// SetResponse configures a custom response for a command
func (c *Config) SetResponse(command, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Responses[command] = response
}

// GetResponse retrieves the configured response for a command
func (c *Config) GetResponse(command string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response, ok := c.Responses[command]
	return response, ok
}

// SetFailure configures an operation to fail with a plain error
func (c *Config) SetFailure(operation, target, errorMsg string) {
	c.AddFailure(ConfiguredFailure{
		Operation: operation,
		Target:    target,
		Error:     errorMsg,
	})
}

// AddFailure configures an operation to fail
func (c *Config) AddFailure(failure ConfiguredFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Failures = append(c.Failures, failure)
}

// ShouldFail returns the first configured failure matching the operation
func (c *Config) ShouldFail(operation, target string) (*ConfiguredFailure, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Failures {
		failure := c.Failures[i]
		if failure.Operation != operation {
			continue
		}
		if failure.Target == "*" || strings.Contains(target, failure.Target) {
			return &failure, true
		}
	}

	return nil, false
}

// AddExistingUser preconfigures an account that already exists
func (c *Config) AddExistingUser(user SimulatedUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExistingUsers = append(c.ExistingUsers, user)
}

// SetExistingReplicaSet marks the node as already initiated
func (c *Config) SetExistingReplicaSet(rs SimulatedReplicaSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExistingReplicaSet = &rs
}
