package bootstrap

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zph/mongo-bootstrap/pkg/admin"
	"github.com/zph/mongo-bootstrap/pkg/config"
	"github.com/zph/mongo-bootstrap/pkg/simulation"
)

func newSimRunner(t *testing.T, cfg *config.Config, simConfig *simulation.Config) (*Runner, *simulation.SimulationExecutor, *bytes.Buffer) {
	t.Helper()
	if simConfig == nil {
		simConfig = simulation.NewConfig()
	}
	exec := simulation.NewExecutor(simConfig)
	runner := NewRunner(cfg, exec)
	out := &bytes.Buffer{}
	runner.Out = out
	runner.PollInterval = 10 * time.Millisecond
	return runner, exec, out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AdminUser.Password = "admin"
	return cfg
}

func wantRoles() []simulation.SimulatedRole {
	return []simulation.SimulatedRole{
		{Role: "userAdminAnyDatabase", DB: "admin"},
		{Role: "readWriteAnyDatabase", DB: "admin"},
	}
}

func TestProvisionUser_FreshNode(t *testing.T) {
	runner, exec, out := newSimRunner(t, testConfig(), nil)

	require.NoError(t, runner.ProvisionUser(context.Background()))

	state := exec.GetState()
	require.Len(t, state.Users, 1)
	user := state.Users["admin@admin"]
	require.NotNil(t, user)
	assert.Equal(t, wantRoles(), user.Roles)
	assert.Nil(t, state.ReplicaSet, "creating a user must not touch replication")

	assert.Contains(t, out.String(), "✓ User admin@admin created")
	assert.Contains(t, out.String(), "MongoDB 7.0.5")
}

func TestProvisionUser_SecondRunFails(t *testing.T) {
	runner, exec, _ := newSimRunner(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, runner.ProvisionUser(ctx))
	err := runner.ProvisionUser(ctx)
	require.Error(t, err)
	assert.True(t, admin.IsUserExists(err))
	assert.Contains(t, err.Error(), "already exists")

	assert.Len(t, exec.GetState().Users, 1, "no duplicate user")
}

func TestProvisionUser_ExistingUser(t *testing.T) {
	simConfig := simulation.NewConfig()
	simConfig.AddExistingUser(simulation.SimulatedUser{Name: "admin", DB: "admin"})
	runner, _, _ := newSimRunner(t, testConfig(), simConfig)

	err := runner.ProvisionUser(context.Background())
	require.Error(t, err)
	assert.True(t, admin.IsRejected(err))
	assert.True(t, admin.IsUserExists(err))
}

func TestProvisionUser_Unreachable(t *testing.T) {
	simConfig := simulation.NewConfig()
	simConfig.SetFailure(simulation.OpConnect, "mongo1", "server selection error: connection refused")
	runner, exec, _ := newSimRunner(t, testConfig(), simConfig)

	err := runner.ProvisionUser(context.Background())
	require.Error(t, err)
	assert.True(t, admin.IsConnectionError(err))
	assert.Contains(t, err.Error(), "cannot reach mongo1")
	assert.Empty(t, exec.GetState().Users)
}

func TestProvisionUser_Unauthorized(t *testing.T) {
	simConfig := simulation.NewConfig()
	simConfig.AddFailure(simulation.ConfiguredFailure{
		Operation: simulation.OpExecute,
		Target:    `"createUser"`,
		Error:     "command createUser requires authentication",
		Code:      admin.CodeUnauthorized,
		CodeName:  "Unauthorized",
	})
	runner, _, _ := newSimRunner(t, testConfig(), simConfig)

	err := runner.ProvisionUser(context.Background())
	require.Error(t, err)
	assert.True(t, admin.IsRejected(err))
	assert.False(t, admin.IsUserExists(err))
}

func TestProvisionUser_OldServer(t *testing.T) {
	simConfig := simulation.NewConfig()
	simConfig.SetResponse("buildInfo", `{"version": "3.6.23", "ok": 1}`)
	runner, exec, _ := newSimRunner(t, testConfig(), simConfig)

	err := runner.ProvisionUser(context.Background())
	require.Error(t, err)
	assert.True(t, admin.IsRejected(err))
	assert.Contains(t, err.Error(), "older than required 4.0.0")
	assert.Empty(t, exec.GetState().Users)
}

func TestProvisionUser_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.AdminUser.Password = ""
	runner, exec, _ := newSimRunner(t, cfg, nil)

	err := runner.ProvisionUser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Empty(t, exec.GetOperations(), "nothing is sent for an invalid configuration")
}

func TestProvisionUser_VerifyLogin(t *testing.T) {
	cfg := testConfig()
	cfg.AdminUser.VerifyLogin = true
	runner, exec, out := newSimRunner(t, cfg, nil)

	require.NoError(t, runner.ProvisionUser(context.Background()))
	assert.Contains(t, out.String(), "✓ Login as admin@admin verified")

	var authed bool
	for _, op := range exec.GetOperations() {
		if op.Type == simulation.OpConnect && strings.Contains(op.Details, "auth=admin@admin") {
			authed = true
		}
	}
	assert.True(t, authed, "expected an authenticated connection")
}

func TestProvisionUser_VerifyLoginRoleMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.AdminUser.VerifyLogin = true
	simConfig := simulation.NewConfig()
	simConfig.SetResponse("connectionStatus",
		`{"authInfo": {"authenticatedUsers": [{"user": "admin", "db": "admin"}], "authenticatedUserRoles": [{"role": "read", "db": "admin"}]}, "ok": 1}`)
	runner, _, _ := newSimRunner(t, cfg, simConfig)

	err := runner.ProvisionUser(context.Background())
	require.Error(t, err)
	assert.True(t, admin.IsRejected(err))
	assert.Contains(t, err.Error(), "was granted read@admin")
}

func TestProvisionUser_GeneratedPasswordPrinted(t *testing.T) {
	cfg := testConfig()
	cfg.AdminUser.Password = ""
	cfg.AdminUser.GeneratePassword = true
	require.NoError(t, cfg.EnsurePassword())
	runner, exec, out := newSimRunner(t, cfg, nil)

	require.NoError(t, runner.ProvisionUser(context.Background()))
	assert.Contains(t, out.String(), "Generated password for admin: "+cfg.AdminUser.Password)

	for _, op := range exec.GetOperations() {
		assert.NotContains(t, op.Details, cfg.AdminUser.Password)
	}
}

func TestBootstrapReplicaSet_FreshNode(t *testing.T) {
	runner, exec, out := newSimRunner(t, testConfig(), nil)

	status, err := runner.BootstrapReplicaSet(context.Background())
	require.NoError(t, err)

	require.Len(t, status.Members, 1)
	assert.Equal(t, "rs0", status.Set)
	assert.Equal(t, "mongo1:27017", status.Members[0].Name)
	assert.Equal(t, admin.StatePrimary, status.Members[0].StateStr)

	state := exec.GetState()
	require.NotNil(t, state.ReplicaSet)
	assert.Equal(t, []string{"mongo1:27017"}, state.ReplicaSet.Members)
	require.Contains(t, state.Users, "admin@admin")
	assert.Equal(t, wantRoles(), state.Users["admin@admin"].Roles)

	text := out.String()
	assert.Contains(t, text, "mongo1:27017 priority=1")
	assert.Contains(t, text, "PRIMARY")
	assert.Contains(t, text, "✓ Bootstrap complete")
	assert.Less(t, strings.Index(text, "PRIMARY"), strings.Index(text, "Creating user"),
		"status is reported before the user is created")
}

func TestBootstrapReplicaSet_CommandOrder(t *testing.T) {
	runner, exec, _ := newSimRunner(t, testConfig(), nil)

	_, err := runner.BootstrapReplicaSet(context.Background())
	require.NoError(t, err)

	var order []string
	for _, op := range exec.GetOperations() {
		for _, name := range []string{"replSetInitiate", "replSetGetStatus", "createUser"} {
			if strings.Contains(op.Details, `"`+name+`"`) {
				order = append(order, name)
			}
		}
	}
	assert.Equal(t, []string{"replSetInitiate", "replSetGetStatus", "createUser"}, order)
}

func TestBootstrapReplicaSet_AlreadyInitialized(t *testing.T) {
	simConfig := simulation.NewConfig()
	simConfig.SetExistingReplicaSet(simulation.SimulatedReplicaSet{Name: "rs0", Members: []string{"mongo1:27017"}})
	runner, exec, _ := newSimRunner(t, testConfig(), simConfig)

	_, err := runner.BootstrapReplicaSet(context.Background())
	require.Error(t, err)
	assert.True(t, admin.IsAlreadyInitialized(err))
	assert.Contains(t, err.Error(), "already belongs to a replica set")
	assert.Empty(t, exec.GetState().Users, "no user is created after a failed initiate")
}

func TestBootstrapReplicaSet_SecondRunFails(t *testing.T) {
	runner, _, _ := newSimRunner(t, testConfig(), nil)
	ctx := context.Background()

	_, err := runner.BootstrapReplicaSet(ctx)
	require.NoError(t, err)

	_, err = runner.BootstrapReplicaSet(ctx)
	require.Error(t, err)
	assert.True(t, admin.IsAlreadyInitialized(err))
}

func TestBootstrapReplicaSet_NoPrimary(t *testing.T) {
	cfg := testConfig()
	cfg.ReplicaSet.PrimaryWait = 50 * time.Millisecond
	simConfig := simulation.NewConfig()
	simConfig.SetResponse("replSetGetStatus",
		`{"set": "rs0", "members": [{"_id": 0, "name": "mongo1:27017", "health": 1.0, "state": 5, "stateStr": "STARTUP2"}], "ok": 1}`)
	runner, exec, _ := newSimRunner(t, cfg, simConfig)

	status, err := runner.BootstrapReplicaSet(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for primary")
	require.NotNil(t, status)
	assert.Equal(t, "STARTUP2", status.Members[0].StateStr)
	assert.Empty(t, exec.GetState().Users)
}

func TestBootstrapReplicaSet_NoWaitReportsStatus(t *testing.T) {
	cfg := testConfig()
	cfg.ReplicaSet.PrimaryWait = 0
	runner, _, _ := newSimRunner(t, cfg, nil)

	status, err := runner.BootstrapReplicaSet(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.Primary())
}

func TestBootstrapReplicaSet_Unreachable(t *testing.T) {
	simConfig := simulation.NewConfig()
	simConfig.SetFailure(simulation.OpConnect, "*", "connection refused")
	runner, exec, _ := newSimRunner(t, testConfig(), simConfig)

	_, err := runner.BootstrapReplicaSet(context.Background())
	require.Error(t, err)
	assert.True(t, admin.IsConnectionError(err))
	assert.Nil(t, exec.GetState().ReplicaSet)
}

func TestBootstrapReplicaSet_InvalidMembers(t *testing.T) {
	cfg := testConfig()
	cfg.ReplicaSet.Members = nil
	runner, exec, _ := newSimRunner(t, cfg, nil)

	_, err := runner.BootstrapReplicaSet(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no members")
	assert.Empty(t, exec.GetOperations())
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	runner, _, _ := newSimRunner(t, testConfig(), nil)

	_, err := runner.Status(ctx)
	require.Error(t, err)
	assert.True(t, admin.IsRejected(err))

	_, err = runner.BootstrapReplicaSet(ctx)
	require.NoError(t, err)

	status, err := runner.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rs0", status.Set)
}

func TestMemberList(t *testing.T) {
	low := 0.5
	members := []config.Member{
		{ID: 0, Host: "mongo1:27017"},
		{ID: 1, Host: "mongo2:27017", Priority: &low},
	}
	assert.Equal(t, "mongo1:27017 priority=1, mongo2:27017 priority=0.5", memberList(members))
}
