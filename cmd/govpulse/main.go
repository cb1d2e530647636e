package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pbaille/govpulse/internal/api"
	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/fetcher"
	"github.com/pbaille/govpulse/internal/refdata"
)

var (
	configPath string
	dbDSN      string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "govpulse",
		Short:        "Consensus extraction of events, places and schemes from social posts",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "", "database DSN, overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(correctionsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	var (
		addr     string
		seedFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if seedFile != "" {
				if err := importSeed(ctx, a, seedFile); err != nil {
					return err
				}
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			// warm the snapshot and vector index; a failure here is not fatal
			if _, err := a.cache.Snapshot(ctx); err != nil {
				a.logger.Warn("Reference data not loaded yet", "error", err)
			}

			server := api.New(api.Deps{
				Parser:      a.engine,
				Resolver:    a.resolver,
				Corrections: a.store,
				Refs:        a.cache,
				Metrics:     a.metrics.Handler(),
				Logger:      a.logger,
			})

			errc := make(chan error, 1)
			go func() {
				errc <- server.Run(addr, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
				a.logger.Info("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address, overrides the config file")
	cmd.Flags().StringVar(&seedFile, "seed", "", "import a reference data YAML file before serving")
	return cmd
}

func parseCmd() *cobra.Command {
	var (
		id     string
		author string
		date   string
	)

	cmd := &cobra.Command{
		Use:   "parse [text | url]",
		Short: "Extract and reconcile the fields of one post",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var post domain.RawPost
			if len(args) == 1 && fetcher.IsURL(args[0]) {
				fetched, err := fetcher.New(nil).FetchPost(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("fetch post: %w", err)
				}
				post = fetched
			} else {
				post = domain.RawPost{ID: "cli", Text: strings.Join(args, " "), CreatedAt: time.Now().UTC()}
			}

			if id != "" {
				post.ID = id
			}
			if author != "" {
				post.AuthorHandle = author
			}
			if date != "" {
				t, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				post.CreatedAt = t
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Parse(cmd.Context(), post)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "post id (defaults to the URL or \"cli\")")
	cmd.Flags().StringVar(&author, "author", "", "author handle")
	cmd.Flags().StringVar(&date, "date", "", "post date (YYYY-MM-DD), defaults to today")
	return cmd
}

func resolveCmd() *cobra.Command {
	var postText string

	cmd := &cobra.Command{
		Use:   "resolve [name]",
		Short: "Resolve a location name into administrative hierarchies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			candidates := a.resolver.Resolve(cmd.Context(), name, postText)
			if len(candidates) == 0 {
				fmt.Printf("No match for %q.\n", name)
				return nil
			}
			for i, h := range candidates {
				fmt.Printf("%d. %s  (%s, %.2f)\n", i+1, h.Label(), h.MatchKind, h.Confidence)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&postText, "context", "", "surrounding post text used for disambiguation")
	return cmd
}

func importSeed(ctx context.Context, a *app, path string) error {
	seed, err := refdata.LoadSeedFile(path)
	if err != nil {
		return err
	}
	counts, err := a.store.ImportSeed(ctx, seed)
	if err != nil {
		return err
	}
	a.cache.Invalidate()
	a.logger.Info("Reference data imported", "file", path,
		"schemes", counts.Schemes, "event_types", counts.EventTypes, "geography", counts.Geography)
	return nil
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import schemes, event types and geography from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			seed, err := refdata.LoadSeedFile(file)
			if err != nil {
				return err
			}
			counts, err := s.ImportSeed(cmd.Context(), seed)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d schemes, %d event types, %d geography entries\n",
				counts.Schemes, counts.EventTypes, counts.Geography)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "configs/reference.yaml", "reference data YAML file")
	return cmd
}

func correctionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "Inspect or append to the geo correction log",
	}
	cmd.AddCommand(correctionsListCmd())
	cmd.AddCommand(correctionsAddCmd())
	return cmd
}

func correctionsListCmd() *cobra.Command {
	var (
		postID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List corrections, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.ListCorrections(cmd.Context(), postID, limit)
			if err != nil {
				return err
			}
			if len(out) == 0 {
				fmt.Println("No corrections recorded.")
				return nil
			}
			for _, c := range out {
				fmt.Printf("%s  %s  %s  %s: %q -> %q  (%s)\n",
					c.ID[:8], c.CorrectedAt.Format("2006-01-02 15:04"), c.PostID, c.Field,
					c.OriginalValue, c.CorrectedValue, c.CorrectedBy)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&postID, "post", "", "only corrections for this post")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of corrections to show")
	return cmd
}

func correctionsAddCmd() *cobra.Command {
	var (
		c      domain.GeoCorrection
		field  string
		layers []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a correction",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.CorrectedValue == "" {
				return errors.New("--to is required")
			}
			c.Field = domain.FieldName(field)
			for _, l := range layers {
				c.SourceLayers = append(c.SourceLayers, domain.LayerID(strings.ToUpper(l)))
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			saved, err := s.AppendCorrection(cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded correction %s\n", saved.ID[:8])
			return nil
		},
	}

	cmd.Flags().StringVar(&c.PostID, "post", "", "post id")
	cmd.Flags().StringVar(&field, "field", string(domain.FieldLocations), "corrected field")
	cmd.Flags().StringVar(&c.OriginalValue, "from", "", "value produced by the pipeline")
	cmd.Flags().StringVar(&c.CorrectedValue, "to", "", "corrected value")
	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers that produced the original value")
	cmd.Flags().StringVar(&c.CorrectedBy, "by", os.Getenv("USER"), "reviewer")
	cmd.Flags().StringVar(&c.Reason, "reason", "", "why the value was wrong")
	return cmd
}
