package setup

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

const usage = `Mammography findings MCP server setup

Usage:
  mcp-server-lite setup <command> [options]

Commands:
  register   Register the server with Claude Desktop
  status     Show the current registration
  validate   Exit with an error when the registration is unusable

Options for register:
  --binary, -b     server binary (default: found on PATH)
  --data-dir, -d   data directory for the review database and exports
  --rules, -r      YAML rule overrides file
  --config, -c     client config file (default: platform location)
`

// CLI runs the setup subcommands.
type CLI struct {
	out io.Writer
}

// NewCLI creates a setup CLI writing to out.
func NewCLI(out io.Writer) *CLI {
	return &CLI{out: out}
}

// Run executes the setup command named by args[0].
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, usage)
		return nil
	}

	switch args[0] {
	case "register":
		return c.register(args[1:])
	case "status":
		return c.status(args[1:])
	case "validate":
		return c.validate(args[1:])
	case "help", "--help", "-h":
		fmt.Fprint(c.out, usage)
		return nil
	default:
		fmt.Fprint(c.out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (c *CLI) flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(c.out)
	return fs
}

func (c *CLI) register(args []string) error {
	var opts Options
	fs := c.flags("register")
	fs.StringVarP(&opts.BinaryPath, "binary", "b", "", "server binary")
	fs.StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory")
	fs.StringVarP(&opts.RulesFile, "rules", "r", "", "rule overrides file")
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "client config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entry, err := Register(opts)
	if err != nil {
		return fmt.Errorf("failed to register server: %w", err)
	}

	fmt.Fprintf(c.out, "Registered %q -> %s\n", ServerKey, entry.Command)
	for k, v := range entry.Env {
		fmt.Fprintf(c.out, "  %s=%s\n", k, v)
	}
	fmt.Fprintln(c.out, "Restart Claude Desktop to load the new configuration.")
	return nil
}

func (c *CLI) loadStatus(name string, args []string) (*Status, error) {
	var configPath string
	fs := c.flags(name)
	fs.StringVarP(&configPath, "config", "c", "", "client config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return GetStatus(configPath)
}

func (c *CLI) status(args []string) error {
	status, err := c.loadStatus("status", args)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Client config: %s\n", status.ConfigPath)
	fmt.Fprintf(c.out, "Registered:    %t\n", status.Registered)
	if status.Binary != "" {
		fmt.Fprintf(c.out, "Binary:        %s\n", status.Binary)
	}
	fmt.Fprintf(c.out, "Data dir:      %s\n", status.DataDir)
	fmt.Fprintf(c.out, "Review DB:     %t\n", status.ReviewDB)
	for _, issue := range status.Issues {
		fmt.Fprintf(c.out, "  ! %s\n", issue)
	}
	return nil
}

func (c *CLI) validate(args []string) error {
	status, err := c.loadStatus("validate", args)
	if err != nil {
		return err
	}
	if !status.OK() {
		for _, issue := range status.Issues {
			fmt.Fprintf(c.out, "  - %s\n", issue)
		}
		return errors.New("setup is not valid")
	}
	fmt.Fprintln(c.out, "Setup is valid.")
	return nil
}
