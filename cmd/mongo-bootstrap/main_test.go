package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zph/mongo-bootstrap/pkg/admin"
	"github.com/zph/mongo-bootstrap/pkg/config"
)

// execute runs a fresh command tree so flag state never leaks between tests
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.DefaultPasswordEnv, "")

	cmd := newRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestCreateUser_Simulate(t *testing.T) {
	out, err := execute(t, "create-user", "--simulate", "--password", "secret")
	require.NoError(t, err)

	assert.Contains(t, out, "[SIMULATION] Running in simulation mode")
	assert.Contains(t, out, "✓ User admin@admin created")
	assert.Contains(t, out, "[SIMULATION] Summary Report")
	assert.Contains(t, out, "Simulation completed successfully")
	assert.NotContains(t, out, "secret")
}

func TestCreateUser_PasswordFromEnvironment(t *testing.T) {
	cmd := newRootCmd()
	t.Setenv(config.DefaultPasswordEnv, "from-env")
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"create-user", "--simulate"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ User admin@admin created")
}

func TestCreateUser_RequiresPassword(t *testing.T) {
	_, err := execute(t, "create-user", "--simulate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin_user.password is required")
}

func TestCreateUser_GeneratePassword(t *testing.T) {
	out, err := execute(t, "create-user", "--simulate", "--generate-password", "--verify-login")
	require.NoError(t, err)
	assert.Contains(t, out, "Generated password for admin:")
	assert.Contains(t, out, "✓ Login as admin@admin verified")
}

func TestCreateUser_CustomRoles(t *testing.T) {
	out, err := execute(t, "create-user", "--simulate", "--simulate-verbose", "--password", "pw",
		"--username", "ops", "--role", "root@admin")
	require.NoError(t, err)
	assert.Contains(t, out, "Creating user ops@admin with roles root@admin")
	assert.Contains(t, out, `"createUser":"ops"`)
}

func TestCreateUser_InvalidRole(t *testing.T) {
	_, err := execute(t, "create-user", "--simulate", "--password", "pw", "--role", "root")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected role@db")
}

func TestCreateUser_ExistingUserScenario(t *testing.T) {
	scenario := filepath.Join(t.TempDir(), "existing-user.yaml")
	_, err := execute(t, "scenario-template", "existing-user", "-o", scenario)
	require.NoError(t, err)

	out, err := execute(t, "create-user", "--simulate", "--simulate-scenario", scenario, "--password", "pw")
	require.Error(t, err)
	assert.True(t, admin.IsUserExists(err))
	assert.Contains(t, out, "Loading scenario from")
	assert.NotContains(t, out, "Simulation completed successfully")
}

func TestInitReplica_Simulate(t *testing.T) {
	out, err := execute(t, "init-replica", "--simulate", "--password", "pw",
		"--replica-set", "rs1", "--member", "db1:27017", "--primary-wait", "0")
	require.NoError(t, err)

	assert.Contains(t, out, "Initiating replica set rs1 (db1:27017 priority=1)")
	assert.Contains(t, out, "PRIMARY")
	assert.Contains(t, out, "✓ User admin@admin created")
	assert.Contains(t, out, "✓ Bootstrap complete")
}

func TestInitReplica_AlreadyInitialized(t *testing.T) {
	scenario := filepath.Join(t.TempDir(), "initialized.yaml")
	_, err := execute(t, "scenario-template", "initialized-node", "-o", scenario)
	require.NoError(t, err)

	_, err = execute(t, "init-replica", "--simulate", "--simulate-scenario", scenario, "--password", "pw")
	require.Error(t, err)
	assert.True(t, admin.IsAlreadyInitialized(err))
}

func TestInitReplica_InvalidMember(t *testing.T) {
	_, err := execute(t, "init-replica", "--simulate", "--password", "pw", "--member", "db1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid member address")
}

func TestStatus(t *testing.T) {
	scenario := filepath.Join(t.TempDir(), "initialized.yaml")
	_, err := execute(t, "scenario-template", "initialized-node", "-o", scenario)
	require.NoError(t, err)

	out, err := execute(t, "status", "--simulate", "--simulate-scenario", scenario)
	require.NoError(t, err)
	assert.Contains(t, out, "Replica set: rs0")
	assert.Contains(t, out, "Primary: mongo1:27017")

	out, err = execute(t, "status", "--simulate", "--simulate-scenario", scenario, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"state_str": "PRIMARY"`)

	_, err = execute(t, "status", "--simulate")
	require.Error(t, err, "a fresh node has no replica set")

	_, err = execute(t, "status", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestPrintStatus(t *testing.T) {
	status := &admin.ReplicaSetStatus{
		Set: "rs0",
		Members: []admin.MemberStatus{
			{ID: 0, Name: "mongo1:27017", Health: 1, State: 1, StateStr: "PRIMARY"},
			{ID: 1, Name: "mongo2:27017", Health: 0, State: 8, StateStr: "(not reachable/healthy)"},
		},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, printStatus(buf, status, "text"))
	assert.Contains(t, buf.String(), "mongo2:27017")
	assert.Contains(t, buf.String(), "down")
	assert.Contains(t, buf.String(), "Primary: mongo1:27017")

	buf.Reset()
	require.NoError(t, printStatus(buf, status, "yaml"))
	var decoded admin.ReplicaSetStatus
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, *status, decoded)
}

func TestConfigCmd_LayersFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection:
  uri: mongodb://from-file:27017
replica_set:
  name: rs9
admin_user:
  password: hunter2
`), 0644))

	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "mongodb://from-file:27017")
	assert.Contains(t, out, "name: rs9")
	assert.Contains(t, out, "# passwords omitted")
	assert.NotContains(t, out, "hunter2")

	out, err = execute(t, "config", "--config", path, "--uri", "mongodb://from-flag:27017")
	require.NoError(t, err)
	assert.Contains(t, out, "mongodb://from-flag:27017")
	assert.NotContains(t, out, "from-file")
}

func TestConfigCmd_OutputReloadsWithEnvPassword(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bootstrap.yaml")
	require.NoError(t, os.WriteFile(src, []byte("admin_user:\n  password: hunter2\n"), 0644))

	out, err := execute(t, "config", "--config", src)
	require.NoError(t, err)

	rendered := filepath.Join(dir, "rendered.yaml")
	require.NoError(t, os.WriteFile(rendered, []byte(out), 0644))

	t.Setenv(config.DefaultPasswordEnv, "real-secret")
	cfg, err := config.ParseFile(rendered)
	require.NoError(t, err)
	cfg.ApplyEnv()
	assert.Equal(t, "real-secret", cfg.AdminUser.Password)
}

func TestConfigCmd_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestScenarioTemplate(t *testing.T) {
	out, err := execute(t, "scenario-template", "network-failure")
	require.NoError(t, err)
	assert.Contains(t, out, "simulation:")
	assert.Contains(t, out, "connection refused")

	_, err = execute(t, "scenario-template", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario template")
}

func TestLogLevelFlag(t *testing.T) {
	_, err := execute(t, "config", "--log-level", "loud")
	require.Error(t, err)
}
