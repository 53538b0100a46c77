package main

import (
	"github.com/spf13/cobra"

	"github.com/zph/mongo-bootstrap/pkg/bootstrap"
)

func newCreateUserCmd(g *globalOptions) *cobra.Command {
	u := &userOptions{}

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create the administrative account",
		Long: `Connect to the node and create one administrative account.

By default the account is admin@admin with the roles
userAdminAnyDatabase@admin and readWriteAnyDatabase@admin.

Running it against a node where the account already exists fails; the
existing account is left untouched.

Examples:
  # Password from the environment
  MONGO_BOOTSTRAP_ADMIN_PASSWORD=secret mongo-bootstrap create-user

  # Generate a password, print it once and confirm the login works
  mongo-bootstrap create-user --generate-password --verify-login

  # Preview the commands without connecting
  mongo-bootstrap create-user --password secret --simulate
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, u, nil)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(g)
			defer cancel()

			out := cmd.OutOrStdout()
			exec, err := newSimulator(g, out)
			if err != nil {
				return err
			}

			runner := bootstrap.NewRunner(cfg, recorderFor(exec))
			runner.Out = out

			err = runner.ProvisionUser(ctx)
			finishSimulation(g, exec, out, err)
			return err
		},
	}

	addUserFlags(cmd, u)
	return cmd
}
