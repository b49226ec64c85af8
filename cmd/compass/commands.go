package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"compass/internal/classifier"
	"compass/internal/config"
	"compass/internal/engine"
	"compass/internal/mcpserver"
	"compass/internal/repository"
	"compass/internal/shared/logging"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func instructionFrom(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no instruction: pass it as arguments or pipe it on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read instruction from stdin: %w", err)
	}
	return string(data), nil
}

func newSelectCommand(cli *CLI) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "select [instruction...]",
		Short: "Resolve the directive bundle for an instruction",
		Long:  "Resolve the directive bundle for an instruction. With no arguments the instruction is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := instructionFrom(cmd, args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := cli.openEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close(context.Background()) }()
			if timeout > 0 {
				e.Config.Selection.Timeout = timeout
			}

			sel, err := e.Select(ctx, text)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Summary any               `json:"selection"`
					Content map[string]string `json:"content"`
				}{sel.Summary(), sel.ResolvedContent})
			}
			fmt.Fprint(cmd.OutOrStdout(), sel.Render())
			fmt.Fprintf(cmd.ErrOrStderr(), "%s via %s, %d directives, %d bytes in %dµs\n",
				cyan(sel.Context), sel.Method, sel.DirectiveCount, sel.ContentBytes, sel.ResolutionMicros())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the selection as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 = use config)")
	return cmd
}

func newClassifyCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [instruction...]",
		Short: "Show which context an instruction maps to",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := instructionFrom(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}
			reg, err := engine.LoadRegistry(cfg.Registry)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatClassification(classifier.New(reg).Classify(text)))
			return nil
		},
	}
}

func newValidateCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config, the registry, and that every directive exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := cli.openEngine(ctx, cmd)
			if err != nil {
				fmt.Fprint(cmd.OutOrStdout(), formatIssues(err))
				return errors.New("validation failed")
			}
			defer func() { _ = e.Close(context.Background()) }()

			fmt.Fprintln(cmd.OutOrStdout(), okText(fmt.Sprintf("%s: %d contexts, %d directives", e.Registry.Source(), len(e.Registry.Contexts()), len(e.Registry.Directives()))))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", gray("digest"), e.Registry.Digest())
			return nil
		},
	}
}

func newImportCommand(cli *CLI) *cobra.Command {
	var (
		dsn  string
		from string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy directives into a SQLite repository",
		Long: `Copy directives into a SQLite repository. --from is a directory of Markdown
directives, or "builtin" for the directives shipped with compass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dsn == "" {
				cfg, err := cli.loadConfig()
				if err != nil {
					return err
				}
				dsn = cfg.Repository.DSN
			}
			if dsn == "" {
				return errors.New("--dsn is required when repository.dsn is not configured")
			}

			srcCfg := config.RepositoryConfig{Backend: "builtin"}
			if from != "builtin" {
				srcCfg = config.RepositoryConfig{Backend: "fs", Dir: from}
			}
			src, _, err := engine.OpenRepository(ctx, srcCfg)
			if err != nil {
				return err
			}
			lister, ok := src.(repository.Lister)
			if !ok {
				return fmt.Errorf("source %s cannot list its directives", from)
			}
			ids, err := lister.List(ctx)
			if err != nil {
				return err
			}

			store, err := repository.OpenSQLite(ctx, dsn)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Import(ctx, src, ids)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okText(fmt.Sprintf("imported %d directives from %s into %s", n, from, dsn)))
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "SQLite database path (default: repository.dsn)")
	cmd.Flags().StringVar(&from, "from", "builtin", `Directive directory, or "builtin"`)
	return cmd
}

func newServeCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := cli.openEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = e.Close(shutdownCtx)
			}()
			logger := logging.NewSlogLogger(e.Logger, "serve")

			if m := e.Config.Observability.Metrics; m.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", e.Metrics.Handler())
				srv := &http.Server{Addr: m.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					logger.Info("metrics listening on %s", m.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server: %v", err)
					}
				}()
				defer func() { _ = srv.Shutdown(context.Background()) }()
			}

			s := mcpserver.New(mcpserver.Deps{
				Selector: e,
				History:  e.Builder,
				Registry: e.Registry,
				Cache:    e.Cache,
				Logger:   logging.NewSlogLogger(e.Logger, "mcp"),
				Tracer:   e.Tracing.Tracer(),
			}, version)
			logger.Info("serving MCP on stdio (registry %s)", e.Registry.Digest())
			err = mcpserver.Serve(ctx, s)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "compass %s (%s)\n", version, commit)
		},
	}
}
