package simulation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario represents a complete simulation scenario from a YAML file
type Scenario struct {
	Responses map[string]string `yaml:"responses,omitempty"`
	Failures  []FailureSpec     `yaml:"failures,omitempty"`
	Node      NodeSpec          `yaml:"node,omitempty"`
}

// FailureSpec defines when an operation should fail
type FailureSpec struct {
	Operation string `yaml:"operation"`
	Target    string `yaml:"target"`
	Error     string `yaml:"error"`
	Code      int32  `yaml:"code,omitempty"`
	CodeName  string `yaml:"code_name,omitempty"`
}

// NodeSpec defines preconfigured node state
type NodeSpec struct {
	ReplicaSet *ReplicaSetSpec `yaml:"replica_set,omitempty"`
	Users      []UserSpec      `yaml:"users,omitempty"`
}

// ReplicaSetSpec describes an already initiated replica set
type ReplicaSetSpec struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// UserSpec describes an account that already exists
type UserSpec struct {
	Name  string          `yaml:"name"`
	DB    string          `yaml:"db"`
	Roles []SimulatedRole `yaml:"roles,omitempty"`
}

// ScenarioFile is the root structure of a scenario YAML file
type ScenarioFile struct {
	Simulation Scenario `yaml:"simulation"`
}

// LoadScenarioFromFile loads a simulation scenario from a YAML file
func LoadScenarioFromFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenarioFile ScenarioFile
	if err := yaml.Unmarshal(data, &scenarioFile); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	return &scenarioFile.Simulation, nil
}

// ApplyScenarioToConfig applies a scenario to a simulation config
func ApplyScenarioToConfig(scenario *Scenario, config *Config) {
	if scenario == nil {
		return
	}

	config.mu.Lock()
	defer config.mu.Unlock()

	for command, response := range scenario.Responses {
		config.Responses[command] = response
	}

	for _, failure := range scenario.Failures {
		config.Failures = append(config.Failures, ConfiguredFailure{
			Operation: failure.Operation,
			Target:    failure.Target,
			Error:     failure.Error,
			Code:      failure.Code,
			CodeName:  failure.CodeName,
		})
	}

	if rs := scenario.Node.ReplicaSet; rs != nil {
		config.ExistingReplicaSet = &SimulatedReplicaSet{Name: rs.Name, Members: rs.Members}
	}

	for _, u := range scenario.Node.Users {
		config.ExistingUsers = append(config.ExistingUsers, SimulatedUser{Name: u.Name, DB: u.DB, Roles: u.Roles})
	}
}

// LoadConfigWithScenario creates a new config with a scenario applied
func LoadConfigWithScenario(scenarioPath string) (*Config, error) {
	scenario, err := LoadScenarioFromFile(scenarioPath)
	if err != nil {
		return nil, err
	}

	config := NewConfig()
	ApplyScenarioToConfig(scenario, config)

	return config, nil
}

// NewExecutorWithScenario creates a new executor with a scenario file
func NewExecutorWithScenario(scenarioPath string) (*SimulationExecutor, error) {
	config, err := LoadConfigWithScenario(scenarioPath)
	if err != nil {
		return nil, err
	}

	return NewExecutor(config), nil
}

// MarshalScenario renders a scenario as a YAML scenario file
func MarshalScenario(scenario *Scenario) ([]byte, error) {
	data, err := yaml.Marshal(ScenarioFile{Simulation: *scenario})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenario: %w", err)
	}
	return data, nil
}

// SaveScenarioToFile saves a scenario to a YAML file
func SaveScenarioToFile(scenario *Scenario, path string) error {
	data, err := MarshalScenario(scenario)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write scenario file: %w", err)
	}

	return nil
}

// ScenarioTemplates lists the names accepted by GenerateScenarioTemplate
var ScenarioTemplates = []string{"fresh-node", "existing-user", "initialized-node", "network-failure", "unauthorized"}

// GenerateScenarioTemplate creates a template scenario with common patterns
func GenerateScenarioTemplate(templateType string) *Scenario {
	switch templateType {
	case "existing-user":
		return &Scenario{
			Node: NodeSpec{
				Users: []UserSpec{
					{
						Name: "admin",
						DB:   "admin",
						Roles: []SimulatedRole{
							{Role: "userAdminAnyDatabase", DB: "admin"},
							{Role: "readWriteAnyDatabase", DB: "admin"},
						},
					},
				},
			},
		}

	case "initialized-node":
		return &Scenario{
			Node: NodeSpec{
				ReplicaSet: &ReplicaSetSpec{Name: "rs0", Members: []string{"mongo1:27017"}},
			},
		}

	case "network-failure":
		return &Scenario{
			Failures: []FailureSpec{
				{
					Operation: OpConnect,
					Target:    "*",
					Error:     "connection refused",
				},
			},
		}

	case "unauthorized":
		return &Scenario{
			Failures: []FailureSpec{
				{
					Operation: OpExecute,
					Target:    "createUser",
					Error:     "command createUser requires authentication",
					Code:      13,
					CodeName:  "Unauthorized",
				},
			},
		}

	default:
		return &Scenario{
			Responses: make(map[string]string),
			Failures:  []FailureSpec{},
		}
	}
}
