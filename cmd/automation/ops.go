package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/engine"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/config"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/sweep"
)

// withEngine connects the backends, runs fn against an engine and closes
// everything again.
func withEngine(ctx context.Context, c *cli, fn func(context.Context, *engine.Engine, *backends) error) (err error) {
	b, err := openBackends(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, b.store.Close(), b.Close())
	}()
	_, eng, err := buildEngine(c.cfg, c.logger, b)
	if err != nil {
		return err
	}
	return fn(ctx, eng, b)
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if c.cfg.Store != config.BackendPostgres {
				return fmt.Errorf("migrate needs STORE=%s", config.BackendPostgres)
			}
			b, err := openBackends(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, b.store.Close(), b.Close()) }()
			if err := b.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			c.logger.Info("migrations applied")
			return nil
		},
	}
}

func newReconcileCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run the timeout, activation and index repair sweeps once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), c, func(ctx context.Context, eng *engine.Engine, _ *backends) error {
				sched, err := sweep.New(eng, sweep.Specs{}, sweep.WithLogger(c.logger))
				if err != nil {
					return err
				}
				report, err := sched.RunOnce(ctx)
				c.logger.Info("reconcile finished",
					slog.Int("timed_out", report.TimedOut),
					slog.Int("activated", report.Activated),
					slog.Int("indexed", report.Indexed),
					slog.Int("index_added", report.Added),
					slog.Int("index_removed", report.Removed),
				)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newJobsCmd(c *cli) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and operate on jobs",
	}

	var (
		clientID, status, jobType string
		limit                     int
		asJSON                    bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := job.Query{Status: job.Status(status), Type: job.Type(jobType), Limit: limit}
			if clientID != "" {
				cid, err := uuid.Parse(clientID)
				if err != nil {
					return fmt.Errorf("--client: %w", err)
				}
				q.ClientID = cid
			}
			return withEngine(cmd.Context(), c, func(ctx context.Context, eng *engine.Engine, _ *backends) error {
				js, err := eng.List(ctx, q)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), js)
				}
				return printJobs(cmd.OutOrStdout(), js)
			})
		},
	}
	list.Flags().StringVar(&clientID, "client", "", "Filter by client id")
	list.Flags().StringVar(&status, "status", "", "Filter by status (pending|queued|running|completed|failed|cancelled)")
	list.Flags().StringVar(&jobType, "type", "", "Filter by job type")
	list.Flags().IntVar(&limit, "limit", 50, "Max rows")
	list.Flags().BoolVar(&asJSON, "json", false, "JSON output")

	jobs.AddCommand(list,
		jobAction(c, "retry", "Requeue a failed or cancelled job", (*engine.Engine).Retry),
		jobAction(c, "cancel", "Cancel a pending, queued or running job", (*engine.Engine).Cancel),
	)
	return jobs
}

// jobAction builds a command that applies op to the job named by its
// single argument.
func jobAction(c *cli, use, short string, op func(*engine.Engine, context.Context, id.JobID) (*job.Job, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), c, func(ctx context.Context, eng *engine.Engine, _ *backends) error {
				j, err := op(eng, ctx, jobID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (retry %d/%d)\n", j.ID, j.Status, j.RetryCount, j.MaxRetries)
				return nil
			})
		},
	}
}

// clientWriter is implemented by the postgres store.
type clientWriter interface {
	PutClient(ctx context.Context, c *clients.Client) error
}

func newClientsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage the client directory",
	}

	var clientID string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a client or rename an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := &clients.Client{ID: uuid.New(), Name: args[0]}
			if clientID != "" {
				cid, err := uuid.Parse(clientID)
				if err != nil {
					return fmt.Errorf("--id: %w", err)
				}
				cl.ID = cid
			}
			return withEngine(cmd.Context(), c, func(ctx context.Context, _ *engine.Engine, b *backends) error {
				w, ok := b.store.(clientWriter)
				if !ok {
					return fmt.Errorf("clients add needs STORE=%s", config.BackendPostgres)
				}
				if err := w.PutClient(ctx, cl); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cl.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&clientID, "id", "", "Client id (default: a new uuid)")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List clients by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), c, func(ctx context.Context, eng *engine.Engine, _ *backends) error {
				cs, err := eng.Directory().ListClients(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, cl := range cs {
					fmt.Fprintf(tw, "%s\t%s\n", cl.ID, cl.Name)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "Max rows (0 for all)")

	cmd.AddCommand(add, list)
	return cmd
}

func printJobs(w io.Writer, js []*job.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLIENT\tTYPE\tPRIORITY\tSTATUS\tPROGRESS\tRETRIES\tCREATED")
	for _, j := range js {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%d/%d\t%s\n",
			j.ID, j.ClientID, j.Type, job.PriorityKey(j.Priority), j.Status,
			j.Progress, j.RetryCount, j.MaxRetries, j.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
