package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zph/mongo-bootstrap/pkg/admin"
	"github.com/zph/mongo-bootstrap/pkg/bootstrap"
	"github.com/zph/mongo-bootstrap/pkg/config"
)

func newInitReplicaCmd(g *globalOptions) *cobra.Command {
	u := &userOptions{}
	r := &replicaOptions{}

	cmd := &cobra.Command{
		Use:   "init-replica",
		Short: "Initiate a single-member replica set and create the administrative account",
		Long: `Initiate a replica set on the node, report its status and then create
the administrative account exactly as create-user does.

By default the replica set is rs0 with one member mongo1:27017 at priority 1.
After initiation the command waits up to --primary-wait for a member to
report PRIMARY before creating the account.

A node that already belongs to a replica set is reported as an error.

Examples:
  # Defaults: rs0 on mongo1:27017
  mongo-bootstrap init-replica --password secret

  # Custom name and member
  mongo-bootstrap init-replica --uri mongodb://db1:27017 \
    --replica-set rs1 --member db1:27017 --password secret
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, u, r)
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

			_, err = runner.BootstrapReplicaSet(ctx)
			finishSimulation(g, exec, out, err)
			return err
		},
	}

	addUserFlags(cmd, u)
	cmd.Flags().StringVar(&r.name, "replica-set", config.DefaultReplicaSetName, "Replica set name")
	cmd.Flags().StringArrayVar(&r.members, "member", nil, "Member host:port (repeatable, default "+config.DefaultMemberHost+")")
	cmd.Flags().DurationVar(&r.primaryWait, "primary-wait", config.DefaultPrimaryWait, "How long to wait for a primary (0 queries status once)")

	return cmd
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the replica set status of the node",
		Long: `Run replSetGetStatus against the node and print the members.

Examples:
  mongo-bootstrap status
  mongo-bootstrap status --uri mongodb://db1:27017 --format json
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unsupported format %q (want text, json or yaml)", format)
			}

			cfg, err := loadConfig(cmd, g, nil, nil)
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

			status, err := runner.Status(ctx)
			if err == nil {
				err = printStatus(out, status, format)
			}
			finishSimulation(g, exec, out, err)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, yaml")
	return cmd
}

func printStatus(out io.Writer, status *admin.ReplicaSetStatus, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(status)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Fprint(out, string(data))
	default:
		fmt.Fprintf(out, "Replica set: %s\n", status.Set)
		fmt.Fprintf(out, "%-4s %-30s %-12s %s\n", "ID", "HOST", "STATE", "HEALTH")
		for _, m := range status.Members {
			fmt.Fprintf(out, "%-4d %-30s %-12s %s\n", m.ID, m.Name, m.StateStr, healthString(m.Health))
		}
		if p := status.Primary(); p != nil {
			fmt.Fprintf(out, "Primary: %s\n", p.Name)
		} else {
			fmt.Fprintln(out, "Primary: none")
		}
	}
	return nil
}

func healthString(h float64) string {
	if h >= 1 {
		return "up"
	}
	return "down"
}
