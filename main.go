package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/config"
	"github.com/lotas/tabgruppen/internal/engine"
	"github.com/lotas/tabgruppen/internal/server"
	"github.com/lotas/tabgruppen/internal/storage"
	"github.com/lotas/tabgruppen/internal/tui"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:          "tabgruppen",
		Short:        "Groups tabs opened from matching pages and closes duplicate tabs",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ~/.config/tabgruppen/config.yaml or ./config.yaml)")
	flags.String("db", "", "path to the SQLite database (overrides config)")
	flags.String("settings", "", "path to the grouping settings file (overrides config)")
	v.BindPFlag("database.path", flags.Lookup("db"))
	v.BindPFlag("settings.path", flags.Lookup("settings"))

	rootCmd.AddCommand(serveCmd(v))
	rootCmd.AddCommand(importCmd(v))
	rootCmd.AddCommand(exportCmd(v))
	rootCmd.AddCommand(rulesCmd(v))
	rootCmd.AddCommand(matchCmd(v))
	rootCmd.AddCommand(statsCmd(v))
	rootCmd.AddCommand(historyCmd(v))
	return rootCmd
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := storage.OpenDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func serveCmd(v *viper.Viper) *cobra.Command {
	var withTUI bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and accept the browser extension connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			if err := applog.Init(cfg.Log.Dir); err != nil {
				return fmt.Errorf("init log: %w", err)
			}
			defer applog.Close()

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			settings, err := config.LoadSettings(cfg.Settings.Path)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Settings.Path), 0o755); err != nil {
				return fmt.Errorf("create settings directory: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg.Engine.CallTimeout)
			eng := engine.New(server.NewBridge(srv), &storage.Store{DB: db}, settings, engine.Options{
				SweepInterval: cfg.Engine.SweepInterval,
				NotifyTTL:     cfg.Notify.TTL,
			})
			events, unsubscribe := srv.Subscribe()
			defer unsubscribe()

			updates, err := config.WatchSettings(ctx, cfg.Settings.Path)
			if err != nil {
				applog.Warn("settings.watch", err, "path", cfg.Settings.Path)
				updates = nil
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx, cfg.ListenAddr(), server.Router(srv, eng))
			})
			g.Go(func() error {
				return eng.Run(gctx, events, updates)
			})

			if withTUI {
				notes, cancelNotes := eng.Notifications().Subscribe()
				g.Go(func() error {
					defer stop()
					defer cancelNotes()
					m := tui.NewModel(eng, notes, srv.Connected, cfg.ListenAddr())
					p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(gctx))
					if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
						return err
					}
					return nil
				})
			} else {
				fmt.Printf("Listening on %s (settings: %s)\n", cfg.ListenAddr(), cfg.Settings.Path)
			}

			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withTUI, "tui", false, "show the live dashboard")
	cmd.Flags().Int("port", 0, "WebSocket port (overrides config)")
	v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func statsCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show grouping and deduplication counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			st, err := storage.LoadStats(cmd.Context(), db)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Groups created:     %d\n", st.GroupsCreated)
			fmt.Fprintf(cmd.OutOrStdout(), "Tabs deduplicated:  %d\n", st.TabsDeduplicated)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func historyCmd(v *viper.Viper) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent undoable actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			actions, err := storage.ListActions(cmd.Context(), db, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(actions) == 0 {
				fmt.Fprintln(out, "No actions recorded.")
				return nil
			}
			for _, a := range actions {
				state := ""
				if a.UndoneAt != nil {
					state = " (undone)"
				}
				fmt.Fprintf(out, "%s  %-8s %s: %s, tabs %v%s\n",
					a.CreatedAt.Local().Format("2006-01-02 15:04:05"), a.Kind, a.Title, a.Message, a.TabIDs, state)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of actions to show (0 for all)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withDB runs fn with a database opened from cfg.
func withDB(ctx context.Context, cfg *config.Config, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}
