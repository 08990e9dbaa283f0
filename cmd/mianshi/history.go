package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourorg/mianshi/internal/console"
	"github.com/yourorg/mianshi/internal/export"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Browse saved practice records"}
	cmd.AddCommand(newHistoryListCmd(opts))
	cmd.AddCommand(newHistoryShowCmd(opts))
	cmd.AddCommand(newHistoryDeleteCmd(opts))
	cmd.AddCommand(newHistoryExportCmd(opts))
	return cmd
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{Use: "list", Short: "List all records, newest first", RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		console.PrintHistory(cmd.OutOrStdout(), a.db.List(cmd.Context()))
		return nil
	}}
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{Use: "show <id>", Short: "Show one record", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		rec, err := a.db.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		console.PrintRecord(cmd.OutOrStdout(), *rec)
		return nil
	}}
}

func newHistoryDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{Use: "delete <id>", Short: "Delete one record", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		ok, err := a.db.DeleteByID(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("record %d not found", id)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
		return nil
	}}
}

func newHistoryExportCmd(opts *rootOptions) *cobra.Command {
	var dir string
	var formats []string
	cmd := &cobra.Command{Use: "export", Short: "Export history as markdown and yaml", RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		if dir != "" {
			a.cfg.Output.Dir = dir
		}
		if err := a.cfg.ValidateExport(); err != nil {
			return err
		}

		records := a.db.List(cmd.Context())
		for _, f := range formats {
			switch strings.ToLower(strings.TrimSpace(f)) {
			case "markdown", "md":
				err = export.RenderMarkdown(records, a.cfg.Output.Dir)
			case "yaml", "yml":
				err = export.RenderYAML(records, a.cfg.Output.Dir)
			default:
				err = fmt.Errorf("unknown export format %q", f)
			}
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(records), a.cfg.Output.Dir)
		return nil
	}}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default output.dir)")
	cmd.Flags().StringSliceVar(&formats, "format", []string{"markdown", "yaml"}, "formats to write")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}
