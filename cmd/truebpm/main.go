// Package main provides the CLI entrypoint for truebpm.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/truebpm/internal/api"
	"github.com/verte-zerg/truebpm/internal/apperrors"
	"github.com/verte-zerg/truebpm/internal/chart"
	"github.com/verte-zerg/truebpm/internal/config"
	"github.com/verte-zerg/truebpm/internal/engine"
	"github.com/verte-zerg/truebpm/internal/fragment"
	"github.com/verte-zerg/truebpm/internal/logger"
	"github.com/verte-zerg/truebpm/internal/model"
	"github.com/verte-zerg/truebpm/internal/store"
	"github.com/verte-zerg/truebpm/internal/tui"
)

const (
	defaultServerURL    = "http://localhost:8000"
	defaultTimeout      = 30 * time.Second
	defaultRate         = 4.0
	defaultBurst        = 2
	defaultLogLevel     = "info"
	defaultLogFormat    = logger.FormatText
	defaultPlotHeight   = 10
	defaultExportWidth  = 1280
	defaultExportHeight = 480
	defaultLinkLimit    = 10
)

var (
	serverURL    string
	shareBaseURL string
	timeout      time.Duration
	rateLimit    float64
	rateBurst    int
	logLevel     string
	logFormat    string
	plotHeight   int
	shareLink    string

	resumeLast bool

	chartReadSpeed int

	exportOutput string
	exportWidth  int
	exportHeight int

	linkLimit int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "truebpm",
		Short:         "Browse rhythm game charts by their true BPM",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE:          runBrowseCmd,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", defaultServerURL, "analysis backend URL")
	flags.StringVar(&shareBaseURL, "share-base-url", "", "base URL of share links (default: server URL)")
	flags.DurationVar(&timeout, "timeout", defaultTimeout, "backend request timeout")
	flags.Float64Var(&rateLimit, "rate", defaultRate, "max chart requests per second")
	flags.IntVar(&rateBurst, "burst", defaultBurst, "chart request burst size")
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", defaultLogFormat, "log format (text, json)")
	flags.IntVar(&plotHeight, "plot-height", defaultPlotHeight, "chart height in rows")
	flags.StringVar(&shareLink, "link", "", "share link to start from")

	rootCmd.Flags().BoolVar(&resumeLast, "resume", false, "start from the most recently recorded share link")

	rootCmd.AddCommand(newSongsCmd())
	rootCmd.AddCommand(newChartCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newLinkCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runBrowseCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logFile, err := logger.OpenFile(config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			// Best-effort close of the log file.
			_ = cerr
		}
	}()
	log := newLogger(cfg, logFile)

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer closeStore(st)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	raw := shareLink
	if resumeLast && !cmd.Flags().Changed("link") {
		latest, ok, err := st.LatestLink(ctx)
		if err != nil {
			return fmt.Errorf("failed to load latest share link: %w", err)
		}
		if !ok {
			logErrln("no recorded share link yet; starting fresh")
		}
		raw = latest.Link
	}

	link, err := fragment.NewLink(raw, cfg.ShareBaseURL)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	eng := engine.New(st.Preferences(), link, log)
	browser := tui.NewModel(ctx, cfg, eng, client, link, log)
	program := tea.NewProgram(browser, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	if err := recordLink(ctx, st, link, eng.Selection()); err != nil {
		log.Warn("failed to record share link", "error", err)
	}
	if browser.ShareLink() != "" && eng.Selection().Song != nil {
		logErrf("Share link: %s\n", browser.ShareLink())
	}
	return nil
}

func newSongsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "songs",
		Short: "List songs known to the backend",
		Args:  cobra.NoArgs,
		RunE:  runSongsCmd,
	}
}

func runSongsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, newLogger(cfg, os.Stderr))
	if err != nil {
		return err
	}
	songs, err := client.FetchCatalog(cmd.Context())
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		logErrln("The backend has no songs.")
		return nil
	}
	for _, song := range songs {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), song.Label); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newChartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart [song]",
		Short: "Print the BPM chart of a song",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runChartCmd,
	}
	cmd.Flags().IntVar(&chartReadSpeed, "read-speed", model.DefaultReadSpeed, "preferred read speed (saved as your preference)")
	return cmd
}

func runChartCmd(cmd *cobra.Command, args []string) error {
	session, err := resolveChart(cmd, args)
	if err != nil {
		return err
	}
	defer closeStore(session.store)

	out := cmd.OutOrStdout()
	sel := session.engine.Selection()
	title := fmt.Sprintf("%s @ read speed %d", sel.SongLabel(), sel.ReadSpeed)
	data := session.engine.ChartData()
	if data.Empty() {
		if _, err := fmt.Fprintln(out, title+": no measures"); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else if err := chart.Plot(out, title, data, 0, session.cfg.PlotHeight, false); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if res, ok := session.engine.Result(); ok {
		if info := chart.FormatInfo(res.Raw); len(info) > 0 {
			if _, err := fmt.Fprintln(out, "\n"+strings.Join(info, "\n")); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
	}
	if _, err := fmt.Fprintf(out, "\nShare: %s\n", session.link.String()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return recordLink(cmd.Context(), session.store, session.link, sel)
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [song]",
		Short: "Render the BPM chart of a song to a PNG file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExportCmd,
	}
	cmd.Flags().IntVar(&chartReadSpeed, "read-speed", model.DefaultReadSpeed, "preferred read speed (saved as your preference)")
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "chart.png", "output PNG path")
	cmd.Flags().IntVar(&exportWidth, "width", defaultExportWidth, "image width in pixels")
	cmd.Flags().IntVar(&exportHeight, "height", defaultExportHeight, "image height in pixels")
	return cmd
}

func runExportCmd(cmd *cobra.Command, args []string) error {
	if exportWidth <= 0 || exportHeight <= 0 {
		return fmt.Errorf("--width and --height must be > 0")
	}
	session, err := resolveChart(cmd, args)
	if err != nil {
		return err
	}
	defer closeStore(session.store)

	sel := session.engine.Selection()
	title := fmt.Sprintf("%s @ read speed %d", sel.SongLabel(), sel.ReadSpeed)
	if err := os.MkdirAll(filepath.Dir(exportOutput), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(exportOutput)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", exportOutput, err)
	}
	if err := chart.RenderPNG(f, title, session.engine.ChartData(), exportWidth, exportHeight); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	logErrf("Wrote %s\n", exportOutput)
	return recordLink(cmd.Context(), session.store, session.link, sel)
}

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "List recently recorded share links",
		Args:  cobra.NoArgs,
		RunE:  runLinkCmd,
	}
	cmd.Flags().IntVarP(&linkLimit, "number", "n", defaultLinkLimit, "number of links to show")
	return cmd
}

func runLinkCmd(cmd *cobra.Command, _ []string) error {
	if linkLimit <= 0 {
		return fmt.Errorf("--number must be > 0")
	}
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer closeStore(st)

	links, err := st.RecentLinks(cmd.Context(), linkLimit)
	if err != nil {
		return fmt.Errorf("failed to load share links: %w", err)
	}
	if len(links) == 0 {
		logErrln("No share links recorded yet.")
		return nil
	}
	for _, l := range links {
		line := fmt.Sprintf("%s  %-4d  %s", l.CreatedAt.Local().Format("2006-01-02 15:04"), l.ReadSpeed, l.Link)
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

type chartSession struct {
	cfg    model.Config
	store  *store.Store
	link   *fragment.Link
	engine *engine.Engine
}

// resolveChart runs the engine once without a UI: the share link and the
// preference seed the selection, then the song argument and --read-speed apply
// as user input.
func resolveChart(cmd *cobra.Command, args []string) (*chartSession, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg, os.Stderr)
	link, err := fragment.NewLink(shareLink, cfg.ShareBaseURL)
	if err != nil {
		return nil, err
	}
	client, err := newClient(cfg, log)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	ctx := cmd.Context()
	eng := engine.New(st.Preferences(), link, log)
	eng.Init(ctx)
	if len(args) > 0 {
		eng.SetSong(ctx, model.SongRef{Label: args[0]})
	}
	if cmd.Flags().Changed("read-speed") {
		eng.SetReadSpeed(ctx, chartReadSpeed)
	}

	q, ok := eng.Pending()
	if !ok {
		closeStore(st)
		sel := eng.Selection()
		if sel.Song == nil {
			return nil, fmt.Errorf("no song selected: pass a song name or --link")
		}
		return nil, fmt.Errorf("%w: read speed %d must be between %d and %d",
			apperrors.ErrInvalidSelection, sel.ReadSpeed, model.MinReadSpeed, model.MaxReadSpeed)
	}
	if err := eng.Resolve(ctx, client, q); err != nil {
		closeStore(st)
		return nil, err
	}
	return &chartSession{cfg: cfg, store: st, link: link, engine: eng}, nil
}

// recordLink stores the share link as published. The read speed is taken from
// the link itself since an out-of-range selection is never written to it.
func recordLink(ctx context.Context, st *store.Store, link *fragment.Link, sel model.Selection) error {
	song, ok, err := link.Get(ctx, fragment.KeySong)
	if err != nil || !ok || sel.Song == nil {
		return err
	}
	raw, ok, err := link.Get(ctx, fragment.KeyReadSpeed)
	if err != nil || !ok {
		return err
	}
	readSpeed, err := strconv.Atoi(raw)
	if err != nil || !model.ReadSpeedInRange(readSpeed) {
		return nil
	}
	if _, err := st.RecordLink(ctx, model.ShareLink{
		Link:      link.String(),
		Song:      song,
		ReadSpeed: readSpeed,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to record share link: %w", err)
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (model.Config, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return model.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "server", &serverURL, fileCfg.Server.URL)
	applyDurationConfig(cmd, "timeout", &timeout, fileCfg.Server.Timeout)
	applyFloatConfig(cmd, "rate", &rateLimit, fileCfg.Server.Rate)
	applyIntConfig(cmd, "burst", &rateBurst, fileCfg.Server.Burst)
	applyStringConfig(cmd, "share-base-url", &shareBaseURL, fileCfg.Share.BaseURL)
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-format", &logFormat, fileCfg.Log.Format)
	applyIntConfig(cmd, "plot-height", &plotHeight, fileCfg.UI.PlotHeight)

	cfg := model.Config{
		ServerURL:    strings.TrimSpace(serverURL),
		ShareBaseURL: strings.TrimSpace(shareBaseURL),
		Timeout:      timeout,
		RateLimit:    rateLimit,
		Burst:        rateBurst,
		LogLevel:     strings.ToLower(strings.TrimSpace(logLevel)),
		LogFormat:    strings.ToLower(strings.TrimSpace(logFormat)),
		PlotHeight:   plotHeight,
	}
	if cfg.ShareBaseURL == "" {
		cfg.ShareBaseURL = strings.TrimRight(cfg.ServerURL, "/") + "/"
	}
	if err := validateConfig(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg model.Config, w io.Writer) *slog.Logger {
	return logger.New(logger.Config{
		Writer: w,
		Format: cfg.LogFormat,
		Level:  logger.ParseLevel(cfg.LogLevel),
	})
}

func newClient(cfg model.Config, log *slog.Logger) (*api.Client, error) {
	return api.NewClient(api.Options{
		BaseURL:           cfg.ServerURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RateLimit,
		Burst:             cfg.Burst,
		Logger:            log,
	})
}

func closeStore(st *store.Store) {
	if cerr := st.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *config.Duration) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value.Duration
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# truebpm configuration
# Uncomment a value to enable it. CLI flags override config values.

[server]
# url = %q   # Analysis backend URL
# timeout = %q              # Backend request timeout
# rate = %.1f                 # Max chart requests per second
# burst = %d                  # Chart request burst size

[share]
# base-url = "https://example.com/"   # Base URL of share links (default: server URL)

[log]
# level = %q               # debug, info, warn, error
# format = %q              # text or json

[ui]
# plot-height = %d           # Chart height in rows
`,
		defaultServerURL,
		defaultTimeout.String(),
		defaultRate,
		defaultBurst,
		defaultLogLevel,
		defaultLogFormat,
		defaultPlotHeight,
	)
}

var configFlagNames = map[string]string{
	"ServerURL":    "--server",
	"ShareBaseURL": "--share-base-url",
	"Timeout":      "--timeout",
	"RateLimit":    "--rate",
	"Burst":        "--burst",
	"LogLevel":     "--log-level",
	"LogFormat":    "--log-format",
	"PlotHeight":   "--plot-height",
}

func validateConfig(cfg model.Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		name := configFlagNames[e.Field()]
		if name == "" {
			name = e.Field()
		}
		msgs = append(msgs, name+" "+friendlyMessage(e))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "\n"))
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "gt":
		return fmt.Sprintf("must be > %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(e.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed %s validation", e.Tag())
	}
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
