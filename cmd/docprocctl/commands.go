package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
)

type options struct {
	apiURL     string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "docprocctl",
		Short:         "Operate the document processing pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", "http://localhost:8000", "base URL of the API service")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/development.yaml", "path to config file")

	root.AddCommand(
		newMigrateCmd(opts),
		newSubmitCmd(opts),
		newStatusCmd(opts),
		newRevokeCmd(opts),
		newDocumentsCmd(opts),
	)
	return root
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, "text")
			_, closeStore, err := app.OpenStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer closeStore()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func newSubmitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload a PDF for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sub dispatcher.Submission
			if err := newAPIClient(opts.apiURL).upload(cmd.Context(), args[0], &sub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hash:    %s\ntask_id: %s\n", sub.Hash, sub.TaskID)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show task, document and cache status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res document.Resolution
			if err := newAPIClient(opts.apiURL).get(cmd.Context(), "/tasks/"+args[0], &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "task_id:         %s\n", res.TaskID)
			fmt.Fprintf(out, "task_status:     %s\n", res.TaskStatus)
			fmt.Fprintf(out, "document_status: %s\n", orNull(res.DocumentStatus))
			fmt.Fprintf(out, "cache_status:    %s\n", orNull(res.CacheStatus))
			return nil
		},
	}
}

func newRevokeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <task_id>",
		Short: "Revoke a task that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				TaskID     string `json:"task_id"`
				TaskStatus string `json:"task_status"`
			}
			if err := newAPIClient(opts.apiURL).post(cmd.Context(), "/tasks/"+args[0]+"/revoke", &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.TaskID, res.TaskStatus)
			return nil
		},
	}
}

func newDocumentsCmd(opts *options) *cobra.Command {
	var recent bool
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/documents"
			if recent {
				path += "?order_by=created_at"
			}
			var docs []document.Document
			if err := newAPIClient(opts.apiURL).get(cmd.Context(), path, &docs); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tTASK\tCREATED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					d.ID, d.FileName, d.Status, d.TaskID, d.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&recent, "recent", false, "only the three most recent documents")
	return cmd
}

func orNull[T ~string](v *T) string {
	if v == nil {
		return "null"
	}
	return string(*v)
}
