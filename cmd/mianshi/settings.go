package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourorg/mianshi/internal/scoring"
	"github.com/yourorg/mianshi/internal/settings"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Manage API keys, model and prompt template"}
	cmd.AddCommand(newSettingsShowCmd(opts))
	cmd.AddCommand(newSettingsSetCmd(opts))
	cmd.AddCommand(newSettingsTemplateCmd(opts))
	cmd.AddCommand(newSettingsModelCmd(opts))
	return cmd
}

func newSettingsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{Use: "show", Short: "Show settings with credentials masked", RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.settingsStore(opts.client)
		if err != nil {
			return err
		}
		snap, err := settings.Load(cmd.Context(), st)
		if err != nil {
			return err
		}
		masked := snap.Masked()
		out := cmd.OutOrStdout()
		for _, k := range settings.Keys() {
			v := masked.Value(k)
			switch {
			case v != "":
			case k == settings.KeyModelID:
				v = a.cfg.Scoring.DefaultModel + " (default)"
			case k == settings.KeyPromptTemplate:
				v = "(default)"
			default:
				v = "(not set)"
			}
			fmt.Fprintf(out, "%s: %s\n", k, v)
		}
		return nil
	}}
}

func newSettingsSetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{Use: "set <key> <value>", Short: "Set one setting", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		key, err := settings.ParseKey(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.settingsStore(opts.client)
		if err != nil {
			return err
		}
		if err := settings.Save(cmd.Context(), st, key, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "saved", key)
		return nil
	}}
}

func newSettingsTemplateCmd(opts *rootOptions) *cobra.Command {
	var file string
	var reset bool
	cmd := &cobra.Command{Use: "template", Short: "Save, reset or print the scoring prompt template", RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.settingsStore(opts.client)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		switch {
		case reset:
			if err := settings.ResetTemplate(ctx, st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "template reset to default")
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if err := settings.SaveTemplate(ctx, st, strings.TrimRight(string(data), "\n")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "template saved")
		default:
			tpl, _, err := st.Get(ctx, settings.KeyPromptTemplate)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), scoring.SelectTemplate(tpl))
		}
		return nil
	}}
	cmd.Flags().StringVar(&file, "file", "", "read the template from this file; it must contain {question} and {answer}")
	cmd.Flags().BoolVar(&reset, "reset", false, "restore the default template")
	return cmd
}

func newSettingsModelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{Use: "model <id>", Short: "Select the scoring model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.settingsStore(opts.client)
		if err != nil {
			return err
		}
		if err := settings.SaveModel(cmd.Context(), st, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "selected", args[0])
		return nil
	}}
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{Use: "models", Short: "List scoring models", RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.settingsStore(opts.client)
		if err != nil {
			return err
		}
		selected, _, err := st.Get(cmd.Context(), settings.KeyModelID)
		if err != nil {
			return err
		}
		if selected == "" {
			selected = a.cfg.Scoring.DefaultModel
		}
		for _, m := range scoring.Models() {
			mark := " "
			if m.ID == selected {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-36s %s\n", mark, m.ID, m.Label)
		}
		return nil
	}}
}
