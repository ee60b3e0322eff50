package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cmd := command{flags: globalFlags, out: os.Stdout}

	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(cmd),
		createStatusCommand(cmd),
		createHealthCommand(cmd),
		createDeployCommand(cmd),
		createUndeployCommand(cmd),
		createInitCommand(cmd),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hookd",
		Short: "Webhook context path registry",
		Long: `hookd routes inbound webhook calls to the deployed definition that owns
the request path. Later claimants of a path wait in a FIFO queue and take
over when the owner is undeployed.

Examples:
  hookd serve --config=hookd.toml           # Start daemon
  hookd init orders --type=secured          # Scaffold a definition
  hookd deploy ./orders.toml                 # Deploy a definition
  hookd list --definition=orders
  hookd status /orders
  hookd undeploy orders --version=1
  hookd health --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

func createListCommand(c command) *cobra.Command {
	f := &ListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered webhooks",
		Long: `List active and queued webhooks. Per path the active listener comes first,
followed by the waiting queue in arrival order.

Examples:
  hookd list
  hookd list --definition=orders --path=/orders`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "filter by executable type")
	cmd.Flags().StringVar(&f.Definition, "definition", "", "filter by definition id")
	cmd.Flags().StringVar(&f.Element, "element", "", "filter by element id")
	cmd.Flags().StringVar(&f.Path, "path", "", "filter by context path")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status [path]",
		Short: "Show path ownership",
		Long: `Without arguments, list known context paths. With a path, show its
active listener and waiting queue.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return c.Status(cmd.Context(), path)
		},
	}
}

func createHealthCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregate webhook health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Health(cmd.Context())
		},
	}
}

func createDeployCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <file>",
		Short: "Deploy a definition file",
		Long: `Deploy a TOML, YAML or JSON definition. Deploying a new version of a
definition withdraws the versions deployed before it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Deploy(cmd.Context(), args[0])
		},
	}
}

func createUndeployCommand(c command) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "undeploy <definition-id>",
		Short: "Undeploy a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Undeploy(cmd.Context(), args[0], version)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "version to undeploy (0 = all versions)")
	return cmd
}

func createInitCommand(c command) *cobra.Command {
	f := &InitFlags{}
	cmd := &cobra.Command{
		Use:   "init <definition-id>",
		Short: "Generate a definition file skeleton",
		Long: `Generate a definition skeleton. Types: basic, secured, forward, multi.
Secrets and forward targets are written as ${VAR} placeholders that are
expanded from the daemon environment at deploy time.

Examples:
  hookd init orders
  hookd init billing --type=secured --format=yaml --output=billing.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Init(args[0], *f)
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "basic", "template type")
	cmd.Flags().StringVar(&f.Format, "format", "toml", "output format (toml, yaml, json)")
	cmd.Flags().StringVar(&f.Path, "path", "", "context path of the first element (default /<definition-id>)")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
