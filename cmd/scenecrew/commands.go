package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/config"
	"github.com/basket/scenecrew/internal/coordinator"
	"github.com/basket/scenecrew/internal/doctor"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/relay"
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <brief>",
		Short: "Build a brief locally and wait for the result",
		Long: "Classifies the brief, then runs a quick build or a full planned run and waits for it.\n" +
			"Commands are executed by a relay: either `scenecrew relay` elsewhere or --relay here.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt := bootstrap(ctx, cmd, quietOutput())
			defer rt.Close()
			c := newCore(ctx, rt)

			if run, _ := cmd.Flags().GetBool("relay"); run {
				dry, _ := cmd.Flags().GetBool("dry-run")
				rctx, cancel := context.WithCancel(ctx)
				defer cancel()
				r := relay.New(relay.Config{
					Source:       c.queue,
					Engine:       newEngine(rt, dry),
					PollInterval: rt.cfg.RelayPollInterval(),
					Logger:       rt.logger,
				})
				go func() { _ = r.Run(rctx) }()
			}

			res, err := c.orchestrator.Build(ctx, projectID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Mode == coordinator.ModeQuick {
				q := res.Quick
				fmt.Fprintf(out, "Quick build (%s): %s\n", res.Decision.Reason, q.Status)
				if q.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", firstLine(q.Error))
				}
				if q.Hint != "" {
					fmt.Fprintf(out, "Hint: %s\n", q.Hint)
				}
				return nil
			}

			fmt.Fprintf(out, "Full build (%s): run %s with %d tasks\n", res.Decision.Reason, res.RunID, res.TaskCount)
			c.orchestrator.Wait()
			rep, err := c.orchestrator.GetRunStatus(context.WithoutCancel(ctx), projectID)
			if err != nil {
				return err
			}
			printStatus(out, rep)
			return nil
		},
	}
	cmd.Flags().StringP("project", "p", "", "project id")
	cmd.Flags().Bool("relay", false, "run the engine relay in this process")
	cmd.Flags().Bool("dry-run", false, "with --relay, accept commands without contacting the editor")
	return cmd
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest build run for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectID, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt := bootstrap(ctx, cmd, quietOutput())
			defer rt.Close()

			rep, err := newCore(ctx, rt).orchestrator.GetRunStatus(ctx, projectID)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), rep)

			counts, err := rt.store.CommandCounts(ctx)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Queue: %d pending, %d executing\n",
					counts[persistence.CommandPending], counts[persistence.CommandExecuting])
			}
			return nil
		},
	}
	cmd.Flags().StringP("project", "p", "", "project id")
	return cmd
}

func newControlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "control pause|resume|stop",
		Short:     "Pause, resume or stop the active build run",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(coordinator.ActionPause), string(coordinator.ActionResume), string(coordinator.ActionStop)},
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt := bootstrap(ctx, cmd, quietOutput())
			defer rt.Close()

			if err := newCore(ctx, rt).orchestrator.ControlRun(ctx, projectID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", strings.ToLower(args[0]))
			return nil
		},
	}
	cmd.Flags().StringP("project", "p", "", "project id")
	return cmd
}

func newRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Execute queued commands against the editor's Remote Control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt := bootstrap(ctx, cmd, false)
			defer rt.Close()

			dry, _ := cmd.Flags().GetBool("dry-run")
			if url, _ := cmd.Flags().GetString("url"); url != "" {
				rt.cfg.Relay.RemoteControlURL = url
			}
			r := relay.New(relay.Config{
				Source:       newCore(ctx, rt).queue,
				Engine:       newEngine(rt, dry),
				PollInterval: rt.cfg.RelayPollInterval(),
				Logger:       rt.logger,
			})
			rt.logger.Info("relay started", "url", rt.cfg.Relay.RemoteControlURL, "dry_run", dry)
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "accept commands without contacting the editor")
	cmd.Flags().String("url", "", "Remote Control base URL (overrides relay.remote_control_url)")
	return cmd
}

func newMemoriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "List what the agents remember about a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectID, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt := bootstrap(ctx, cmd, quietOutput())
			defer rt.Close()
			mem := newCore(ctx, rt).memory

			agentName, _ := cmd.Flags().GetString("agent")
			query, _ := cmd.Flags().GetString("query")
			limit, _ := cmd.Flags().GetInt("limit")

			var records []persistence.AgentMemory
			switch {
			case query != "":
				records, err = mem.Search(ctx, projectID, query)
			case agentName != "":
				canonical := agent.Canonical(agentName)
				if canonical == "" {
					return fmt.Errorf("unknown agent %q (known: %s)", agentName, strings.Join(agent.Names(), ", "))
				}
				records, err = mem.Recall(ctx, projectID, canonical, limit)
			default:
				records, err = mem.TeamRecall(ctx, projectID, limit)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No memories yet.")
				return nil
			}
			for _, m := range records {
				fmt.Fprintf(out, "%s  %-8s %-10s %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Agent, m.MemoryType, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringP("project", "p", "", "project id")
	cmd.Flags().StringP("agent", "a", "", "only this agent's memories")
	cmd.Flags().StringP("query", "q", "", "search memory content")
	cmd.Flags().Int("limit", 0, "maximum records (0 for the default)")
	return cmd
}

func newDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose config, credentials, the store and the editor connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, _ := cmd.Flags().GetString("home")
			if home == "" {
				home = config.HomeDir()
			}
			cfg, err := config.LoadFrom(home)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
			}
			offline, _ := cmd.Flags().GetBool("offline")
			diag := doctor.Run(cmd.Context(), &cfg, Version, offline)

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(diag); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "scenecrew doctor (%s)\n", diag.Timestamp.Format(time.RFC3339))
				fmt.Fprintf(out, "System: %s/%s (%s)\n---\n", diag.System.OS, diag.System.Arch, diag.System.Go)
				for _, res := range diag.Results {
					fmt.Fprintf(out, "%-4s %-12s: %s\n", res.Status, res.Name, res.Message)
					if res.Detail != "" {
						fmt.Fprintf(out, "     %s\n", res.Detail)
					}
				}
			}
			if diag.Failed() {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the diagnosis as JSON")
	cmd.Flags().Bool("offline", false, "skip the LLM endpoint DNS lookup")
	return cmd
}
