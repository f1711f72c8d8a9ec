package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examgrade/internal/engine"
	"github.com/pavelanni/examgrade/internal/handler"
	appI18n "github.com/pavelanni/examgrade/internal/i18n"
	"github.com/pavelanni/examgrade/internal/importer"
	"github.com/pavelanni/examgrade/internal/llm"
	"github.com/pavelanni/examgrade/internal/llm/prompts"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examgrade",
		Short: "Exam evaluation and submission server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), reviewCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examgrade --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "examgrade.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("exams", "e", nil, "Exam JSON files to import at startup (repeatable)")
	f.Duration("lock-timeout", engine.DefaultLockTimeout, "Maximum wait for a per-student submission lock")
	f.Int("pass-mark", 50, "Default pass mark for exam statistics")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import exam definitions from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addCommonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON or CSV",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam to export (required)")
	f.String("format", "json", "Output format (json, csv)")
	f.Int("pass-mark", 50, "Pass mark used for the statistics block")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")

	_ = cmd.MarkFlagRequired("exam-id")

	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Ask the LLM for score suggestions on submissions awaiting manual grading",
		RunE:  runReview,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam to review (required)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Review prompt variant (strict, standard, lenient)")
	f.Bool("apply", false, "Save suggested scores instead of only printing them")

	_ = cmd.MarkFlagRequired("exam-id")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examgrade")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgrade")
	v.AddConfigPath("/etc/examgrade")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openEngine opens the database and builds the engine over it.
func openEngine(ctx context.Context, v *viper.Viper) (*store.Store, *engine.Engine, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	eng, err := engine.New(ctx, db, engine.Config{
		LockTimeout: v.GetDuration("lock-timeout"),
		Logger:      slog.Default(),
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}
	return db, eng, nil
}

// cliContext returns a localized context for command output.
func cliContext(lang string) (context.Context, error) {
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	return appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang)), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, eng, err := openEngine(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	imp := importer.New(eng, db, slog.Default())
	if paths := v.GetStringSlice("exams"); len(paths) > 0 {
		if _, err := imp.ImportFiles(ctx, paths); err != nil {
			return fmt.Errorf("import exams: %w", err)
		}
	}

	examCount, err := db.ExamCount(ctx)
	if err != nil {
		return fmt.Errorf("count exams: %w", err)
	}

	examCfg := model.ExamConfig{PassMark: v.GetInt("pass-mark")}
	h := handler.New(eng, imp, examCfg)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(lang, v.GetStringSlice("cors-origins")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"lang", lang,
		"lock_timeout", v.GetDuration("lock-timeout"),
		"pass_mark", examCfg.PassMark,
		"exams", examCount,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, err := cliContext(v.GetString("lang"))
	if err != nil {
		return err
	}
	db, eng, err := openEngine(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := importer.New(eng, db, slog.Default()).ImportFiles(ctx, args)
	if err != nil {
		return err
	}
	imported := 0
	for _, r := range results {
		imported += len(r.Exams)
	}
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "ExamsImported", imported))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, err := cliContext(v.GetString("lang"))
	if err != nil {
		return err
	}
	db, eng, err := openEngine(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	examID := v.GetInt64("exam-id")
	exam, err := eng.GetExam(ctx, examID)
	if err != nil {
		return err
	}
	stats, err := eng.ExamStats(ctx, examID, v.GetInt("pass-mark"))
	if err != nil {
		return err
	}
	results, err := db.ExportExamResults(ctx, examID)
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch strings.ToLower(v.GetString("format")) {
	case "csv":
		err = writeCSV(w, results)
	case "json":
		err = writeJSON(w, model.ResultsExport{
			ExamID:       exam.ID,
			Title:        exam.Title,
			Type:         exam.Type,
			TypeName:     exam.Type.DisplayName(),
			TotalMarks:   exam.TotalMarks,
			NumQuestions: len(exam.Questions),
			Stats:        stats,
			Results:      results,
		})
	default:
		return fmt.Errorf("unknown format %q", v.GetString("format"))
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	slog.Info(appI18n.Tp(ctx, "ResultsExported", len(results)), "exam_id", examID, "output", outPath)
	return nil
}

func writeJSON(w io.Writer, export model.ResultsExport) error {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	// Ensure trailing newline.
	_, err = fmt.Fprintln(w)
	return err
}

func writeCSV(w io.Writer, results []model.StudentResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.CSVHeader); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write(r.CSVRecord()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func runReview(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, err := cliContext(v.GetString("lang"))
	if err != nil {
		return err
	}
	db, eng, err := openEngine(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		promptVariant,
	)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := llmClient.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	examID := v.GetInt64("exam-id")
	exam, err := eng.GetExam(ctx, examID)
	if err != nil {
		return err
	}
	subs, err := eng.ListSubmissions(ctx, examID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	apply := v.GetBool("apply")
	pending := 0
	for _, sub := range subs {
		if sub.Graded {
			continue
		}
		pending++
		s, err := llmClient.SuggestScore(ctx, exam, sub)
		if err != nil {
			slog.Error("review failed", "submission_id", sub.ID, "error", err)
			continue
		}
		fmt.Fprintln(out, appI18n.Td(ctx, "ReviewSuggestion", map[string]any{
			"ID": sub.ID, "Score": s.Score, "Total": s.TotalMarks,
		}))
		if s.Feedback != "" {
			fmt.Fprintln(out, "  "+s.Feedback)
		}
		if !apply {
			continue
		}
		if _, err := eng.OverrideScore(ctx, sub.ID, s.Score); err != nil {
			return fmt.Errorf("apply score to submission %d: %w", sub.ID, err)
		}
		fmt.Fprintln(out, appI18n.Td(ctx, "ReviewApplied", map[string]any{"ID": sub.ID}))
	}
	if pending == 0 {
		fmt.Fprintln(out, appI18n.T(ctx, "NothingToReview"))
	}
	return nil
}
