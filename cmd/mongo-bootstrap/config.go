package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zph/mongo-bootstrap/pkg/config"
	"github.com/zph/mongo-bootstrap/pkg/simulation"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, --config file, environment and
connection flags are applied. Passwords are left out; supply them again
through $` + config.DefaultPasswordEnv + ` or --password when the file is used.

Examples:
  # Start a configuration file from the defaults
  mongo-bootstrap config > bootstrap.yaml
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, nil, nil)
			if err != nil {
				return err
			}

			data, err := cfg.Redacted().Marshal()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cfg.AdminUser.Password != "" || cfg.Connection.Password != "" {
				fmt.Fprintf(out, "# passwords omitted; set $%s or pass --password\n", cfg.AdminUser.PasswordEnv)
			}
			fmt.Fprint(out, string(data))
			return nil
		},
	}
}

func newScenarioTemplateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "scenario-template <type>",
		Short: "Generate a simulation scenario file",
		Long: `Generate a scenario YAML for --simulate-scenario.

Types: ` + strings.Join(simulation.ScenarioTemplates, ", ") + `

Examples:
  mongo-bootstrap scenario-template existing-user -o existing-user.yaml
  mongo-bootstrap create-user --password secret --simulate --simulate-scenario existing-user.yaml
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateType := args[0]
			if !isScenarioTemplate(templateType) {
				return fmt.Errorf("unknown scenario template %q (want one of: %s)",
					templateType, strings.Join(simulation.ScenarioTemplates, ", "))
			}

			scenario := simulation.GenerateScenarioTemplate(templateType)
			if output != "" {
				if err := simulation.SaveScenarioToFile(scenario, output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Scenario %s written to %s\n", templateType, output)
				return nil
			}

			data, err := simulation.MarshalScenario(scenario)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the scenario to a file instead of stdout")
	return cmd
}

func isScenarioTemplate(name string) bool {
	for _, t := range simulation.ScenarioTemplates {
		if t == name {
			return true
		}
	}
	return false
}
