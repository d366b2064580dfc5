package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	checkpointsDelete string
	checkpointsPurge  time.Duration
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List, delete or purge saved checkpoints",
	Long: `List every saved checkpoint, newest first. Any name can be passed to
'foundry run --from <name>'.

Checkpoints are written after every completed task (task_<id>_done),
on every pause (paused_<id>), after each phase change, and by the
mutation commands. "latest" always mirrors the newest one and is never
deleted.`,
	Args: cobra.NoArgs,
	RunE: runCheckpoints,
}

func init() {
	checkpointsCmd.Flags().StringVar(&checkpointsDelete, "delete", "", "Delete the named checkpoint")
	checkpointsCmd.Flags().DurationVar(&checkpointsPurge, "purge", 0, "Delete checkpoints older than this duration (e.g. 168h)")
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, _, stateDir, err := workspaceContext()
	if err != nil {
		return err
	}
	db, err := openStore(stateDir)
	if err != nil {
		return err
	}
	defer db.Close()

	if checkpointsDelete != "" {
		if err := db.Delete(ctx, checkpointsDelete); err != nil {
			return err
		}
		printStatus("✓", "Deleted checkpoint "+checkpointsDelete, color.FgGreen)
		return nil
	}
	if checkpointsPurge > 0 {
		n, err := db.PurgeOlderThan(ctx, checkpointsPurge)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Purged %d checkpoint(s) older than %s", n, checkpointsPurge), color.FgGreen)
		return nil
	}

	infos, err := db.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No checkpoints. Run 'foundry init <plan.yaml>' to start.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSAVED\tPHASE\tDONE\tBLOCKED")
	for _, info := range infos {
		blocked := "-"
		if info.BlockedReason != "" {
			blocked = truncate(info.BlockedReason, 50)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n", info.Name, info.SavedAt.Local().Format("2006-01-02 15:04:05"),
			info.Phase, info.DoneCount, info.TaskCount, blocked)
	}
	return tw.Flush()
}
