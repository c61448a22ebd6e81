package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lotas/tabgruppen/internal/config"
	"github.com/lotas/tabgruppen/internal/dedup"
	"github.com/lotas/tabgruppen/internal/export"
	"github.com/lotas/tabgruppen/internal/importer"
	"github.com/lotas/tabgruppen/internal/naming"
	"github.com/lotas/tabgruppen/internal/rules"
	"github.com/lotas/tabgruppen/internal/storage"
	"github.com/lotas/tabgruppen/internal/types"
)

func importCmd(v *viper.Viper) *cobra.Command {
	var apply, overwrite, asJSON bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Classify the rules in an exported document against the current settings",
		Long: `Reads a rule document (an export, or a bare JSON array of rules) and
reports which rules are new, which conflict with an existing rule of the same
label and which are identical. Use "-" to read from stdin.

With --apply, new rules are added to the settings file. Conflicting rules are
only replaced when --overwrite is also given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			doc, err := importer.ParseDocument(data)
			var verr *importer.ValidationError
			if errors.As(err, &verr) {
				for _, issue := range verr.Issues {
					fmt.Fprintln(cmd.ErrOrStderr(), "  "+issue.String())
				}
				return fmt.Errorf("%s: %d problem(s), nothing imported", args[0], len(verr.Issues))
			}
			if err != nil {
				return err
			}

			settings, err := config.LoadSettings(cfg.Settings.Path)
			if err != nil {
				return err
			}
			res := importer.Classify(settings.Rules, doc.Rules)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				printClassification(out, res)
			}

			if !apply {
				return nil
			}
			settings.Rules = importer.Merge(settings.Rules, res, overwrite)
			settings.Groups = mergeGroups(settings.Groups, doc.Groups)
			if err := config.SaveSettings(cfg.Settings.Path, settings); err != nil {
				return err
			}
			added := len(res.New)
			replaced := 0
			if overwrite {
				replaced = len(res.Conflicting)
			}
			if !asJSON {
				fmt.Fprintf(out, "Applied: %d added, %d replaced (%s)\n", added, replaced, cfg.Settings.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "write new rules to the settings file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "with --apply, replace conflicting rules")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the classification as JSON")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func printClassification(w io.Writer, res importer.Result) {
	fmt.Fprintf(w, "%d new, %d conflicting, %d identical\n", len(res.New), len(res.Conflicting), len(res.Identical))
	for _, r := range res.New {
		fmt.Fprintf(w, "  + %s (%s)\n", r.Label, r.DomainFilter)
	}
	for _, c := range res.Conflicting {
		fmt.Fprintf(w, "  ~ %s\n", c.Imported.Label)
		for _, d := range c.Diffs {
			fmt.Fprintf(w, "      %s: %q -> %q\n", d.Field, d.Existing, d.Imported)
		}
	}
	for _, r := range res.Identical {
		fmt.Fprintf(w, "  = %s\n", r.Label)
	}
}

// mergeGroups appends imported logical groups whose id is not yet known.
func mergeGroups(existing, imported []types.LogicalGroup) []types.LogicalGroup {
	seen := make(map[string]bool, len(existing))
	out := append([]types.LogicalGroup(nil), existing...)
	for _, g := range existing {
		seen[g.ID] = true
	}
	for _, g := range imported {
		if !seen[g.ID] {
			seen[g.ID] = true
			out = append(out, g)
		}
	}
	return out
}

func exportCmd(v *viper.Viper) *cobra.Command {
	var markdown bool
	var outFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the rule set as a portable JSON document or a Markdown summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(cfg.Settings.Path)
			if err != nil {
				return err
			}

			var output string
			if markdown {
				var actions []storage.Action
				err := withDB(cmd.Context(), cfg, func(ctx context.Context, db *sql.DB) error {
					var err error
					actions, err = storage.ListActions(ctx, db, 10)
					return err
				})
				if err != nil {
					return err
				}
				output = export.Markdown(settings.Rules, settings.Groups, actions)
			} else {
				output, err = export.JSON(settings.Rules, settings.Groups)
				if err != nil {
					return fmt.Errorf("generate JSON: %w", err)
				}
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(output), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outFile, err)
				}
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "export a Markdown summary instead of JSON")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func rulesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the configured domain rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(cfg.Settings.Path)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tLABEL\tFILTER\tNAME\tDEDUP\tENABLED")
			for i, r := range settings.Rules {
				dd := "off"
				if r.DeduplicationEnabled {
					dd = string(r.DeduplicationMatchMode)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", i+1, r.Label, r.DomainFilter, r.GroupNameSource, dd, r.Enabled)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the settings file and report rules that would be disabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			settings, problems, err := config.CheckSettings(cfg.Settings.Path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintf(out, "rule %d %q:\n", p.Index+1, p.Rule.Label)
				for _, fe := range p.Errors {
					fmt.Fprintf(out, "  %s\n", fe.Error())
				}
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d of %d rules invalid", len(problems), len(settings.Rules))
			}
			fmt.Fprintf(out, "%d rules OK\n", len(settings.Rules))
			return nil
		},
	})
	return cmd
}

func matchCmd(v *viper.Viper) *cobra.Command {
	var title, against string

	cmd := &cobra.Command{
		Use:   "match <url>",
		Short: "Show which rule applies to a page and the group name it would get",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(cfg.Settings.Path)
			if err != nil {
				return err
			}

			url := args[0]
			out := cmd.OutOrStdout()
			rule := rules.Match(url, settings.Rules)
			if rule == nil {
				fmt.Fprintln(out, "No rule matches.")
			} else {
				res := naming.Resolve(rule, naming.Opener{Title: title, URL: url})
				fmt.Fprintf(out, "Rule:          %s (%s)\n", rule.Label, rule.ID)
				fmt.Fprintf(out, "Filter:        %s\n", rule.DomainFilter)
				fmt.Fprintf(out, "Group name:    %s (%s)\n", res.Name, res.Source)
				if res.Interactive {
					fmt.Fprintln(out, "               asks the user; the name above is provisional")
				}
			}

			dd := dedup.Config{Enabled: settings.DeduplicationEnabled, DefaultMode: settings.DefaultMatchMode}
			mode, on := dd.Mode(rule)
			if !on {
				fmt.Fprintln(out, "Deduplication: off")
				return nil
			}
			fmt.Fprintf(out, "Deduplication: %s\n", mode)
			if against != "" {
				verdict := "no"
				if dedup.IsURLMatch(against, url, mode) {
					verdict = "yes"
				}
				fmt.Fprintf(out, "Duplicate of %s: %s\n", against, verdict)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "opener page title used for name extraction")
	cmd.Flags().StringVar(&against, "against", "", "an open tab's URL to test as a duplicate")
	return cmd
}
