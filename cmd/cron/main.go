package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rds-snapshots",
		Short:         "Tag-driven RDS snapshot scheduler and expiry sweep",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file")
	root.AddCommand(versionCmd(), takeCmd(), deleteCmd(), instanceCmd(), startCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("rds-snapshots %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func takeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "take",
		Short: "Run one snapshot scheduling pass over every instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ok := newApp(cmd)
			if !ok {
				return nil
			}
			defer a.Close()
			a.RunOnce(a.TakeSnapshotsJob())
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete manual snapshots whose snapshot_expiry has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ok := newApp(cmd)
			if !ok {
				return nil
			}
			defer a.Close()
			a.RunOnce(a.DeleteSnapshotsJob())
			return nil
		},
	}
}

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Snapshot a single instance now, ignoring its schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ok := newApp(cmd)
			if !ok {
				return nil
			}
			defer a.Close()

			if id, _ := cmd.Flags().GetString("instance"); id != "" {
				a.cfg.Snapshot.InstanceID = id
			}
			job, ok := a.InstanceSnapshotJob()
			if !ok {
				return nil
			}
			a.RunOnce(job)
			return nil
		},
	}
	cmd.Flags().StringP("instance", "i", "", "Instance identifier (defaults to RDS_INSTANCE_ID)")
	return cmd
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run take and delete on their cron schedules until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ok := newApp(cmd)
			if !ok {
				return nil
			}
			defer a.Close()
			return a.Serve()
		},
	}
}
