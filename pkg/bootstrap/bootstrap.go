// Package bootstrap configures a fresh MongoDB node: it initiates a
// single-member replica set and provisions the administrative account.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/zph/mongo-bootstrap/pkg/admin"
	"github.com/zph/mongo-bootstrap/pkg/config"
	"github.com/zph/mongo-bootstrap/pkg/logger"
)

// Runner executes the bootstrap routines for one configuration
type Runner struct {
	cfg      *config.Config
	recorder admin.Recorder

	// Out receives operator-facing progress lines
	Out io.Writer
	// PollInterval is the delay between replSetGetStatus polls
	PollInterval time.Duration
}

// NewRunner creates a runner. A non-nil recorder switches every routine to
// simulation: commands are recorded instead of sent to a server.
func NewRunner(cfg *config.Config, recorder admin.Recorder) *Runner {
	return &Runner{
		cfg:          cfg,
		recorder:     recorder,
		Out:          os.Stdout,
		PollInterval: time.Second,
	}
}

// ProvisionUser connects to the node and creates the administrative user
func (r *Runner) ProvisionUser(ctx context.Context) error {
	if err := r.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintln(r.Out, "Provision administrative user")
	fmt.Fprintln(r.Out, "=============================")

	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	return r.provisionUser(ctx, client)
}

// BootstrapReplicaSet initiates the replica set, reports its status and then
// provisions the administrative user on the new primary
func (r *Runner) BootstrapReplicaSet(ctx context.Context) (*admin.ReplicaSetStatus, error) {
	if err := r.cfg.ValidateForReplicaSet(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintln(r.Out, "Bootstrap replica set")
	fmt.Fprintln(r.Out, "=====================")

	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(ctx)

	rs := r.cfg.ReplicaSet

	// Step 1: initiate
	fmt.Fprintf(r.Out, "  Initiating replica set %s (%s)\n", rs.Name, memberList(rs.Members))
	if err := client.InitiateReplicaSet(ctx, rs); err != nil {
		if admin.IsAlreadyInitialized(err) {
			return nil, fmt.Errorf("node %s already belongs to a replica set: %w", client.Host(), err)
		}
		return nil, fmt.Errorf("failed to initiate replica set %s: %w", rs.Name, err)
	}
	fmt.Fprintf(r.Out, "  ✓ Replica set %s initiated\n", rs.Name)

	// Step 2: wait for the election and report status
	if rs.PrimaryWait > 0 {
		fmt.Fprintf(r.Out, "  Waiting up to %s for a primary in %s...\n", rs.PrimaryWait, rs.Name)
	}
	status, err := client.WaitForPrimary(ctx, rs.PrimaryWait, r.PollInterval)
	if err != nil {
		return status, fmt.Errorf("replica set %s status: %w", rs.Name, err)
	}
	r.printStatus(status)

	// Step 3: user
	if err := r.provisionUser(ctx, client); err != nil {
		return status, err
	}

	fmt.Fprintln(r.Out, "✓ Bootstrap complete")
	return status, nil
}

// Status reports the replica set status of the configured node
func (r *Runner) Status(ctx context.Context) (*admin.ReplicaSetStatus, error) {
	if err := r.cfg.Connection.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := r.connectNoPreflight(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(ctx)

	status, err := client.ReplicaSetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get replica set status: %w", err)
	}
	return status, nil
}

func (r *Runner) connectNoPreflight(ctx context.Context) (*admin.Client, error) {
	host := admin.HostFromURI(r.cfg.Connection.URI)
	logger.WithField("host", host).Debug("connecting")

	client, err := admin.Connect(ctx, r.cfg.Connection, r.recorder)
	if err != nil {
		return nil, fmt.Errorf("cannot reach %s: %w", host, err)
	}
	return client, nil
}

// connect opens the client and refuses servers older than the configured minimum
func (r *Runner) connect(ctx context.Context) (*admin.Client, error) {
	client, err := r.connectNoPreflight(ctx)
	if err != nil {
		return nil, err
	}

	v, err := client.ServerVersion(ctx)
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to read server version: %w", err)
	}
	if err := admin.CheckServerVersion(v, r.cfg.MinServerVersion); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	fmt.Fprintf(r.Out, "  ✓ Connected to %s (MongoDB %s)\n", client.Host(), v)
	return client, nil
}

// provisionUser is shared by both routines
func (r *Runner) provisionUser(ctx context.Context, client *admin.Client) error {
	user := r.cfg.AdminUser

	fmt.Fprintf(r.Out, "  Creating user %s@%s with roles %s\n", user.Username, user.Database, roleList(user.Roles))
	if err := client.CreateUser(ctx, user); err != nil {
		if admin.IsUserExists(err) {
			return fmt.Errorf("user %s@%s already exists (drop it before re-running): %w", user.Username, user.Database, err)
		}
		return fmt.Errorf("failed to create user %s@%s: %w", user.Username, user.Database, err)
	}
	fmt.Fprintf(r.Out, "  ✓ User %s@%s created\n", user.Username, user.Database)

	if user.PasswordGenerated {
		fmt.Fprintf(r.Out, "  Generated password for %s: %s\n", user.Username, user.Password)
		fmt.Fprintln(r.Out, "  Store it now; it is not saved anywhere.")
	}

	if user.VerifyLogin {
		if err := r.verifyLogin(ctx); err != nil {
			return err
		}
	}

	return nil
}

// verifyLogin authenticates as the new user and checks the granted roles
func (r *Runner) verifyLogin(ctx context.Context) error {
	user := r.cfg.AdminUser

	conn := r.cfg.Connection
	conn.Username = user.Username
	conn.Password = user.Password
	conn.AuthSource = user.Database

	client, err := admin.Connect(ctx, conn, r.recorder)
	if err != nil {
		return fmt.Errorf("login as %s@%s failed: %w", user.Username, user.Database, err)
	}
	defer client.Disconnect(ctx)

	info, err := client.ConnectionStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read connection status as %s: %w", user.Username, err)
	}
	if !info.HasRoles(user.Roles) {
		return &admin.Error{
			Op:   "connectionStatus",
			Kind: admin.KindRejected,
			Err:  fmt.Errorf("user %s was granted %s, want %s", user.Username, roleList(info.Roles), roleList(user.Roles)),
		}
	}

	fmt.Fprintf(r.Out, "  ✓ Login as %s@%s verified\n", user.Username, user.Database)
	return nil
}

func (r *Runner) printStatus(status *admin.ReplicaSetStatus) {
	fmt.Fprintf(r.Out, "  Replica set %s status:\n", status.Set)
	for _, m := range status.Members {
		fmt.Fprintf(r.Out, "    [%d] %-25s %s\n", m.ID, m.Name, m.StateStr)
	}
}

func memberList(members []config.Member) string {
	hosts := make([]string, len(members))
	for i, m := range members {
		hosts[i] = fmt.Sprintf("%s priority=%g", m.Host, m.EffectivePriority())
	}
	return strings.Join(hosts, ", ")
}

func roleList(roles []config.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return strings.Join(names, ", ")
}
