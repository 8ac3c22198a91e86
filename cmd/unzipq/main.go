package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/unzipq/unzipq/internal/services"
	"github.com/unzipq/unzipq/internal/tracing"
	"github.com/unzipq/unzipq/pkg/app"
	"github.com/unzipq/unzipq/pkg/config"
	"github.com/unzipq/unzipq/pkg/domain"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	configPath := getenv("UNZIPQ_CONFIG", "")
	debug := false
	ui := newUI()

	root := &cobra.Command{
		Use:   "unzipq",
		Short: "unzipQ CLI",
		Long:  "unzipQ extracts and organizes archives on a drive account without downloading them.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Config file path")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Verbose logging (requests and retries, never the cookie)")

	root.AddCommand(initCmd(&configPath, ui))
	root.AddCommand(runCmd(&configPath, &debug, ui))
	root.AddCommand(scanCmd(&configPath, &debug, ui))
	root.AddCommand(configCmd(&configPath, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func runCmd(configPath *string, debug *bool, ui *ui) *cobra.Command {
	var (
		deleteOriginals bool
		keep            bool
		jsonOut         bool
		concurrency     int
		metricsAddr     string
	)
	cmd := &cobra.Command{
		Use:     "run [path]",
		Short:   "Extract and organize every archive in a folder",
		Example: "unzipq run /Media/Incoming --delete-originals",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(*configPath, *debug)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Cookie) == "" && isTerminal(int(os.Stdin.Fd())) {
				fmt.Printf("%s No account cookie configured. Starting setup.\n", ui.warn("[WARN]"))
				if err := firstRunSetup(*configPath, cfg, ui); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Concurrency = concurrency
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			target := cfg.TargetPath
			if len(args) == 1 {
				target = args[0]
			}
			del := resolveDeleteOriginals(cmd, cfg, deleteOriginals, keep, jsonOut, ui)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var (
				mu    sync.Mutex
				bar   *progressbar.ProgressBar
				batch services.BatchService
				spin  = spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			)
			hooks := services.RunHooks{
				OnTaskStart: func(*domain.ArchiveTask) {
					mu.Lock()
					defer mu.Unlock()
					spin.Stop()
					if bar == nil && batch != nil {
						if snap := batch.Snapshot(); snap != nil {
							bar = newRunBar(snap.Discovered)
						}
					}
				},
				OnTaskDone: func(domain.TaskOutcome) {
					mu.Lock()
					defer mu.Unlock()
					if bar != nil {
						_ = bar.Add(1)
					}
				},
			}
			if jsonOut {
				hooks = services.RunHooks{}
			}

			application, err := app.NewApplication(cfg, app.WithRunHooks(hooks))
			if err != nil {
				return err
			}
			batch = application.Batch

			shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
				Enabled:      cfg.TracingEnabled,
				ServiceName:  "unzipq",
				OTLPEndpoint: cfg.TracingEndpoint,
				OTLPInsecure: cfg.TracingInsecure,
				SampleRatio:  cfg.TracingSampleRatio,
			}, application.Logger)
			if err != nil {
				return err
			}
			defer func() {
				shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shCancel()
				_ = shutdownTracing(shCtx)
			}()

			stopMetrics := startMetricsListener(cfg.MetricsAddr, ui)
			defer stopMetrics()

			if !jsonOut {
				spin.Suffix = " Scanning " + target + "..."
				spin.Start()
			}

			report, err := application.Batch.Run(ctx, target, del)
			spin.Stop()
			mu.Lock()
			if bar != nil {
				_ = bar.Finish()
			}
			mu.Unlock()
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(report, ui)
			}
			if !report.Success() {
				return fmt.Errorf("%d of %d archives did not complete", report.Failed+report.Skipped, report.Total())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteOriginals, "delete-originals", false, "Delete original archives after successful processing")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep original archives (skip the prompt)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the report as JSON")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent archive workflows")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	return cmd
}

// resolveDeleteOriginals applies the precedence flag > config > prompt. The
// prompt only appears on a terminal and never in JSON mode; everywhere else
// the default is to keep.
func resolveDeleteOriginals(cmd *cobra.Command, cfg *config.Config, deleteOriginals, keep, quiet bool, ui *ui) bool {
	if cmd.Flags().Changed("delete-originals") {
		return deleteOriginals
	}
	if keep {
		return false
	}
	if cfg.DeleteOriginals {
		return true
	}
	if quiet || !isTerminal(int(os.Stdin.Fd())) {
		return false
	}
	reader := bufio.NewReader(os.Stdin)
	ans := prompt(reader, "Delete original archives after successful processing? [y/N]", "")
	del := isYes(ans)
	if del {
		fmt.Printf("%s Originals will be deleted after each successful extraction\n", ui.warn("[WARN]"))
	}
	return del
}

func scanCmd(configPath *string, debug *bool, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scan [path]",
		Short:   "List the archives a run would process",
		Example: "unzipq scan /Media/Incoming",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(*configPath, *debug)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			target := cfg.TargetPath
			if len(args) == 1 {
				target = args[0]
			}

			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Scanning " + target + "..."
			spin.Start()
			fid, err := application.Paths.Resolve(ctx, target)
			if err != nil {
				spin.Stop()
				return err
			}
			nodes, err := application.API.ListChildren(ctx, fid)
			spin.Stop()
			if err != nil {
				return err
			}

			var archives []domain.RemoteNode
			for _, node := range nodes {
				if !node.Dir && domain.IsArchiveName(node.Name, cfg.Extensions) {
					archives = append(archives, node)
				}
			}
			if len(archives) == 0 {
				fmt.Printf("%s No archives found in %s\n", ui.warn("[WARN]"), target)
				return nil
			}
			fmt.Printf("%s %d archive(s) in %s:\n", ui.title("unzipq"), len(archives), target)
			for _, node := range archives {
				fmt.Printf("%s %s %s\n", ui.info("•"), node.Name, ui.dim(formatSize(node.Size)))
			}
			return nil
		},
	}
	return cmd
}

func initCmd(configPath *string, ui *ui) *cobra.Command {
	var (
		cookie          string
		target          string
		baseURL         string
		extensions      string
		deleteOriginals bool
		noPrompt        bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := effectiveConfigPath(*configPath)
			cfg, err := config.LoadConfigOptional(path)
			if err != nil {
				return err
			}

			if cookie != "" {
				cfg.Cookie = strings.TrimSpace(cookie)
			}
			if target != "" {
				cfg.TargetPath = strings.TrimSpace(target)
			}
			if baseURL != "" {
				cfg.BaseURL = strings.TrimSpace(baseURL)
			}
			if extensions != "" {
				cfg.Extensions = splitList(extensions)
			}
			if cmd.Flags().Changed("delete-originals") {
				cfg.DeleteOriginals = deleteOriginals
			}

			if !noPrompt {
				if err := wizard(cfg); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("%s Config written to %s\n", ui.ok("[OK]"), path)
			fmt.Printf("%s Cookie: %s\n", ui.info("•"), maskToken(cfg.Cookie))
			return nil
		},
	}
	cmd.Flags().StringVar(&cookie, "cookie", "", "Account cookie")
	cmd.Flags().StringVar(&target, "target", "", "Default target folder")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Drive API base URL (empty for production)")
	cmd.Flags().StringVar(&extensions, "extensions", "", "Comma-separated archive extensions")
	cmd.Flags().BoolVar(&deleteOriginals, "delete-originals", false, "Delete originals by default")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func configCmd(configPath *string, ui *ui) *cobra.Command {
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config (cookie masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := effectiveConfigPath(*configPath)
			cfg, err := config.LoadConfigOptional(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s Config: %s\n", ui.title("unzipq"), path)
			fmt.Printf("%s Cookie:       %s\n", ui.info("•"), maskToken(cfg.Cookie))
			fmt.Printf("%s Target:       %s\n", ui.info("•"), cfg.TargetPath)
			fmt.Printf("%s Base URL:     %s\n", ui.info("•"), emptyOr(cfg.BaseURL, "<production>"))
			fmt.Printf("%s Extensions:   %s\n", ui.info("•"), strings.Join(cfg.Extensions, ", "))
			fmt.Printf("%s Concurrency:  %d\n", ui.info("•"), cfg.Concurrency)
			fmt.Printf("%s Delete originals: %v\n", ui.info("•"), cfg.DeleteOriginals)
			fmt.Printf("%s Retry:        %d attempts, %s (base %ds, max %ds)\n", ui.info("•"),
				cfg.MaxAttempts, cfg.BackoffPolicy, cfg.BackoffBaseSeconds, cfg.BackoffMaxSeconds)
			fmt.Printf("%s Polling:      base %ds, max %ds, budget %ds\n", ui.info("•"),
				cfg.PollBaseSeconds, cfg.PollMaxSeconds, cfg.PollBudgetSeconds)
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config operations",
	}
	cmd.AddCommand(show)
	return cmd
}

// wizard fills cfg interactively. Existing values become prompt defaults and
// the cookie is read without echo.
func wizard(cfg *config.Config) error {
	reader := bufio.NewReader(os.Stdin)
	cfg.TargetPath = prompt(reader, "Target folder", cfg.TargetPath)
	cfg.BaseURL = prompt(reader, "Drive API base URL (empty for production)", cfg.BaseURL)

	label := "Account cookie"
	if cfg.Cookie != "" {
		label = fmt.Sprintf("Account cookie [%s]", maskToken(cfg.Cookie))
	}
	cookie, err := promptSecret(label)
	if err != nil {
		return err
	}
	if cookie != "" {
		cfg.Cookie = cookie
	}

	exts := prompt(reader, "Archive extensions", strings.Join(cfg.Extensions, ","))
	cfg.Extensions = splitList(exts)
	cfg.DeleteOriginals = isYes(prompt(reader, "Delete originals after extraction? [y/N]", ""))
	return nil
}

func firstRunSetup(configPath string, cfg *config.Config, ui *ui) error {
	if err := wizard(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := effectiveConfigPath(configPath)
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("%s Config written to %s\n", ui.ok("[OK]"), path)
	return nil
}

func loadCLIConfig(path string, debug bool) (*config.Config, error) {
	cfg, err := config.LoadConfigOptional(path)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func effectiveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return config.DefaultPath()
}

func startMetricsListener(addr string, ui *ui) func() {
	if strings.TrimSpace(addr) == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, ui.warn("[WARN]"), "metrics listener:", err.Error())
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newRunBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Processing archives"),
		progressbar.OptionSetWidth(18),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func printReport(report *domain.BatchReport, ui *ui) {
	for _, o := range report.Outcomes {
		fmt.Println(formatOutcome(o, ui))
	}
	summary := fmt.Sprintf("%d completed, %d failed, %d skipped in %s",
		report.Completed, report.Failed, report.Skipped,
		report.Finished.Sub(report.Started).Round(time.Millisecond))
	if report.Total() == 0 {
		fmt.Printf("%s No archives found in %s\n", ui.warn("[WARN]"), report.TargetPath)
		return
	}
	if report.Success() {
		fmt.Printf("%s %s\n", ui.ok("[OK]"), summary)
	} else {
		fmt.Printf("%s %s\n", ui.err("[FAIL]"), summary)
	}
}

func formatOutcome(o domain.TaskOutcome, ui *ui) string {
	switch o.State {
	case domain.StateCompleted:
		detail := fmt.Sprintf("moved %d", o.Moved)
		if o.Renamed > 0 {
			detail += fmt.Sprintf(", renamed %d", o.Renamed)
		}
		if o.OriginalDeleted {
			detail += ", original deleted"
		}
		return fmt.Sprintf("%s %s %s", ui.ok("[OK]"), o.Name, ui.dim(fmt.Sprintf("(%s, %s)", detail, o.Duration.Round(time.Millisecond))))
	case domain.StateFailed:
		return fmt.Sprintf("%s %s failed at %s: %s", ui.err("[FAIL]"), o.Name, o.FailedStep, o.Reason)
	default:
		return fmt.Sprintf("%s %s: %s", ui.warn("[SKIP]"), o.Name, o.Reason)
	}
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := termReadPassword()
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func termReadPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		return []byte(strings.TrimSpace(line)), err
	}
	return term.ReadPassword(fd)
}

func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

func isYes(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "y" || v == "yes"
}

func splitList(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		e = strings.TrimSpace(strings.TrimPrefix(e, "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func helpTemplate(ui *ui) string {
	title := ui.title("unzipq")
	return fmt.Sprintf(`%s — remote archive extraction for your drive account

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  unzipq init
  unzipq scan /Media/Incoming
  unzipq run /Media/Incoming
  unzipq run --delete-originals --json
  unzipq run --metrics-addr :9101

`, title, config.DefaultPath())
}
