package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand.
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createDaemonCommand(c, globalFlags),
		createStatusCommand(c, globalFlags),
		createRecordingsCommand(c, globalFlags),
		createProbeCommand(c, globalFlags),
		createReloadCommand(c, globalFlags),
		createShutdownCommand(c, globalFlags),
		createTargetCommand(c, globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "streamwatch",
		Short: "Live stream recording daemon",
		Long: `Streamwatch watches a set of live-stream targets and records them
automatically while they are live.

Examples:
  streamwatch target add --address=https://example.com/live/chan --name=chan
  streamwatch daemon                 # Run the watcher in the foreground
  streamwatch status                 # Query the running daemon
  streamwatch probe 3                # Check one target right now`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createDaemonCommand(c command, global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the watcher daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Daemon(DaemonFlags{ConfigPath: global.ConfigPath})
		},
	}
}

func clientFlags(global *GlobalFlags, timeout *time.Duration) ClientFlags {
	return ClientFlags{ConfigPath: global.ConfigPath, Timeout: *timeout}
}

func createStatusCommand(c command, global *GlobalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(clientFlags(global, &timeout))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func createRecordingsCommand(c command, global *GlobalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List active recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Recordings(clientFlags(global, &timeout))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func createProbeCommand(c command, global *GlobalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe <target-id>",
		Short: "Probe one target now and record it if live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid target id %q", args[0])
			}
			return c.Probe(ProbeFlags{ClientFlags: clientFlags(global, &timeout), TargetID: id})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout (probes can be slow)")
	return cmd
}

func createReloadCommand(c command, global *GlobalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask the daemon to re-read its store-held settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Reload(clientFlags(global, &timeout))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func createShutdownCommand(c command, global *GlobalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the running daemon gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Shutdown(clientFlags(global, &timeout))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func createTargetCommand(c command, global *GlobalFlags) *cobra.Command {
	target := &cobra.Command{
		Use:   "target",
		Short: "Manage watch targets",
	}

	addFlags := &TargetAddFlags{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a new watch target",
		RunE: func(cmd *cobra.Command, args []string) error {
			addFlags.ConfigPath = global.ConfigPath
			return c.TargetAdd(*addFlags)
		},
	}
	add.Flags().StringVar(&addFlags.Address, "address", "", "stream address (required)")
	add.Flags().StringVar(&addFlags.Name, "name", "", "display name (defaults to address)")
	add.Flags().StringVar(&addFlags.Quality, "quality", "", "requested quality, e.g. 1080p60 (defaults to daemon setting)")
	add.Flags().BoolVar(&addFlags.Disabled, "disabled", false, "add the target disabled")
	if err := add.MarkFlagRequired("address"); err != nil {
		panic(err)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watch targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TargetList(TargetFlags{ConfigPath: global.ConfigPath})
		},
	}

	enable := &cobra.Command{
		Use:   "enable <target-id>",
		Short: "Enable a watch target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid target id %q", args[0])
			}
			return c.TargetSetEnabled(TargetFlags{ConfigPath: global.ConfigPath, TargetID: id}, true)
		},
	}

	disable := &cobra.Command{
		Use:   "disable <target-id>",
		Short: "Disable a watch target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid target id %q", args[0])
			}
			return c.TargetSetEnabled(TargetFlags{ConfigPath: global.ConfigPath, TargetID: id}, false)
		},
	}

	target.AddCommand(add, list, enable, disable)
	return target
}
