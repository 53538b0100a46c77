package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zph/mongo-bootstrap/pkg/admin"
	"github.com/zph/mongo-bootstrap/pkg/config"
	"github.com/zph/mongo-bootstrap/pkg/logger"
	"github.com/zph/mongo-bootstrap/pkg/simulation"
)

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	configFile string
	logLevel   string
	timeout    time.Duration

	uri          string
	direct       bool
	connUsername string
	connPassword string

	simulate         bool
	simulateScenario string
	simulateVerbose  bool
}

// userOptions overrides the admin_user section
type userOptions struct {
	username         string
	password         string
	database         string
	roles            []string
	verifyLogin      bool
	generatePassword bool
}

// replicaOptions overrides the replica_set section
type replicaOptions struct {
	name        string
	members     []string
	primaryWait time.Duration
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "mongo-bootstrap",
		Short: "Prepare a fresh MongoDB node for first use",
		Long: `mongo-bootstrap configures a freshly started MongoDB node.

It can create the administrative account (create-user) or initiate a
single-member replica set and then create the same account (init-replica).

Settings come from built-in defaults, then an optional YAML file (--config),
then the environment ($` + config.DefaultPasswordEnv + `), then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logLevel != "" {
				if err := logger.SetLevel(opts.logLevel); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $LOG_LEVEL or info)")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 2*time.Minute, "Overall timeout for the command")
	flags.StringVar(&opts.uri, "uri", "", "MongoDB connection string (default: "+config.DefaultURI+")")
	flags.BoolVar(&opts.direct, "direct", true, "Connect directly to the node without topology discovery")
	flags.StringVar(&opts.connUsername, "conn-username", "", "Username for nodes that already enforce authentication")
	flags.StringVar(&opts.connPassword, "conn-password", "", "Password for --conn-username")
	flags.BoolVar(&opts.simulate, "simulate", false, "Record the commands that would be sent instead of connecting")
	flags.StringVar(&opts.simulateScenario, "simulate-scenario", "", "Path to scenario YAML file for simulation")
	flags.BoolVar(&opts.simulateVerbose, "simulate-verbose", false, "Show detailed operation log in simulation mode")

	cmd.AddCommand(newCreateUserCmd(opts))
	cmd.AddCommand(newInitReplicaCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newScenarioTemplateCmd())

	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration: defaults, file, environment,
// then any flag the user set explicitly
func loadConfig(cmd *cobra.Command, g *globalOptions, u *userOptions, r *replicaOptions) (*config.Config, error) {
	cfg := config.Default()
	if g.configFile != "" {
		parsed, err := config.ParseFile(g.configFile)
		if err != nil {
			return nil, err
		}
		cfg = parsed
		logger.Debug("Loaded configuration from %s", g.configFile)
	}

	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("uri") {
		cfg.Connection.URI = g.uri
	}
	if flags.Changed("direct") {
		cfg.Connection.Direct = g.direct
	}
	if flags.Changed("conn-username") {
		cfg.Connection.Username = g.connUsername
	}
	if flags.Changed("conn-password") {
		cfg.Connection.Password = g.connPassword
	}

	if u != nil {
		if flags.Changed("username") {
			cfg.AdminUser.Username = u.username
		}
		if flags.Changed("password") {
			cfg.AdminUser.Password = u.password
		}
		if flags.Changed("database") {
			cfg.AdminUser.Database = u.database
		}
		if flags.Changed("role") {
			roles := make([]config.Role, 0, len(u.roles))
			for _, s := range u.roles {
				role, err := config.ParseRole(s)
				if err != nil {
					return nil, err
				}
				roles = append(roles, role)
			}
			cfg.AdminUser.Roles = roles
		}
		if flags.Changed("verify-login") {
			cfg.AdminUser.VerifyLogin = u.verifyLogin
		}
		if flags.Changed("generate-password") {
			cfg.AdminUser.GeneratePassword = u.generatePassword
		}
		if err := cfg.EnsurePassword(); err != nil {
			return nil, err
		}
	}

	if r != nil {
		if flags.Changed("replica-set") {
			cfg.ReplicaSet.Name = r.name
		}
		if flags.Changed("member") {
			cfg.ReplicaSet.Members = config.MembersFromHosts(r.members)
		}
		if flags.Changed("primary-wait") {
			cfg.ReplicaSet.PrimaryWait = r.primaryWait
		}
	}

	return cfg, nil
}

func addUserFlags(cmd *cobra.Command, u *userOptions) {
	cmd.Flags().StringVar(&u.username, "username", config.DefaultAdminUsername, "Name of the account to create")
	cmd.Flags().StringVar(&u.password, "password", "", "Password of the account (default: $"+config.DefaultPasswordEnv+")")
	cmd.Flags().StringVar(&u.database, "database", config.DefaultAdminDatabase, "Database the account is created in")
	cmd.Flags().StringArrayVar(&u.roles, "role", nil, "Role to grant as role@db (repeatable, replaces the default roles)")
	cmd.Flags().BoolVar(&u.verifyLogin, "verify-login", false, "Log in as the new account and check its roles")
	cmd.Flags().BoolVar(&u.generatePassword, "generate-password", false, "Generate a random password when none is supplied")
}

// commandContext derives the context every driver call runs under
func commandContext(g *globalOptions) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// newSimulator returns the simulation executor when --simulate is set
func newSimulator(g *globalOptions, out io.Writer) (*simulation.SimulationExecutor, error) {
	if !g.simulate {
		return nil, nil
	}

	fmt.Fprintln(out, "[SIMULATION] Running in simulation mode - no actual changes will be made")

	simConfig := simulation.NewConfig()
	if g.simulateScenario != "" {
		fmt.Fprintf(out, "[SIMULATION] Loading scenario from: %s\n", g.simulateScenario)
		var err error
		simConfig, err = simulation.LoadConfigWithScenario(g.simulateScenario)
		if err != nil {
			return nil, fmt.Errorf("failed to load simulation scenario: %w", err)
		}
	}

	return simulation.NewExecutor(simConfig), nil
}

// recorderFor converts the optional executor into the admin.Recorder the
// routines take. A nil executor must stay a nil interface.
func recorderFor(exec *simulation.SimulationExecutor) admin.Recorder {
	if exec == nil {
		return nil
	}
	return exec
}

// finishSimulation prints the simulation report after a run
func finishSimulation(g *globalOptions, exec *simulation.SimulationExecutor, out io.Writer, runErr error) {
	if exec == nil {
		return
	}

	reporter := simulation.NewReporter(exec)
	reporter.Out = out

	if g.simulateVerbose {
		reporter.PrintDetailed()
	} else {
		reporter.PrintSummary()
	}

	if reporter.HasErrors() {
		reporter.PrintErrors()
	}

	if runErr == nil {
		fmt.Fprintf(out, "\n✅ [SIMULATION] Simulation completed successfully!\n")
		fmt.Fprintf(out, "[SIMULATION] To execute for real, run without --simulate\n")
	}
}
