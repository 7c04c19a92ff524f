// epubtrans — translate EPUB books with cached, resumable runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/epubtrans/epubtrans/internal/backend"
	"github.com/epubtrans/epubtrans/internal/cache"
	"github.com/epubtrans/epubtrans/internal/checkpoint"
	"github.com/epubtrans/epubtrans/internal/config"
	"github.com/epubtrans/epubtrans/internal/epub"
	"github.com/epubtrans/epubtrans/internal/lang"
	"github.com/epubtrans/epubtrans/internal/orchestrator"
	"github.com/epubtrans/epubtrans/internal/unit"
	"github.com/epubtrans/epubtrans/internal/watch"
	"github.com/epubtrans/epubtrans/pkg/file"
	"github.com/epubtrans/epubtrans/pkg/log"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var envFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "epubtrans",
		Short: "Translate EPUB books with cached, resumable runs",
		Long: `epubtrans translates EPUB books between languages using Google,
DeepL, OpenAI-compatible or local Ollama backends. Translations are
cached by content hash, interrupted runs resume from a checkpoint, and
a watch mode keeps whole library directories translated.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load before reading the environment")

	root.AddCommand(
		newTranslateCmd(),
		newCacheCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("epubtrans version %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

func newTranslateCmd() *cobra.Command {
	var (
		service     string
		sourceLang  string
		targetLang  string
		output      string
		threads     int
		imageCount  int
		noCache     bool
		noResume    bool
		imagesOnly  bool
		bilingual   bool
		timeoutSecs int
	)
	cmd := &cobra.Command{
		Use:   "translate BOOK.epub",
		Short: "Translate one EPUB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				if service != "" {
					c.Translate.Service = service
				}
				if sourceLang != "" {
					c.Translate.SourceLang = sourceLang
				}
				if targetLang != "" {
					c.Translate.TargetLang = targetLang
				}
				if threads > 0 {
					c.Workers.TextWorkers = threads
				}
				if imageCount > 0 {
					c.Workers.ImageWorkers = imageCount
				}
				if timeoutSecs > 0 {
					c.Backend.TimeoutSecs = timeoutSecs
				}
				if noCache {
					c.Cache.Disable = true
				}
				if bilingual {
					c.Translate.Bilingual = true
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			input := args[0]
			if output == "" {
				output = file.TranslatedPath(input, cfg.Translate.TargetLang)
			}
			return translateBook(ctx, cfg, input, output, translateOptions{
				Resume:     !noResume,
				ImagesOnly: imagesOnly,
			})
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "translation service (google, deepl, openai, ollama)")
	cmd.Flags().StringVar(&sourceLang, "from", "", "source language code, or auto")
	cmd.Flags().StringVar(&targetLang, "to", "", "target language code")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: BOOK.<lang>.epub)")
	cmd.Flags().IntVarP(&threads, "threads", "t", 0, "text worker count")
	cmd.Flags().IntVar(&imageCount, "image-threads", 0, "image worker count")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the translation cache")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore an existing checkpoint")
	cmd.Flags().BoolVar(&imagesOnly, "images-only", false, "process only embedded images")
	cmd.Flags().BoolVar(&bilingual, "bilingual", false, "keep original text alongside the translation")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "per-request backend timeout in seconds")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or maintain the translation cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			defer store.Close()
			s, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("translations: %d\n", s.TranslationCount)
			fmt.Printf("ocr verdicts: %d\n", s.VerdictCount)
			fmt.Printf("size:         %.1f MiB\n", float64(s.SizeBytes)/(1<<20))
			if !s.OldestEntry.IsZero() {
				fmt.Printf("oldest entry: %s\n", s.OldestEntry.Format(time.RFC3339))
				fmt.Printf("newest entry: %s\n", s.NewestEntry.Format(time.RFC3339))
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		},
	}

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove entries older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.PruneOlderThan(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d entries\n", removed)
			return nil
		},
	}
	prune.Flags().IntVar(&days, "days", 30, "age threshold in days")

	cmd.AddCommand(stats, clearCmd, prune)
	return cmd
}

func newWatchCmd() *cobra.Command {
	var dirs []string
	var cronExpr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan library directories on a schedule and translate new books",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				if len(dirs) > 0 {
					c.Watch.Dirs = dirs
				}
				if cronExpr != "" {
					c.Watch.Cron = cronExpr
				}
			})
			if err != nil {
				return err
			}
			if len(cfg.Watch.Dirs) == 0 {
				return fmt.Errorf("no watch directories: set WATCH_DIRS or pass --dir")
			}

			ctx, stop := signalContext()
			defer stop()

			c := cron.New()
			svc := watch.NewService(c, cfg.Watch.Cron, cfg.Watch.Dirs, cfg.Translate.TargetLang,
				func(ctx context.Context, in, out string) error {
					return translateBook(ctx, cfg, in, out, translateOptions{Resume: true})
				})
			if err := svc.Schedule(ctx); err != nil {
				return err
			}
			svc.Scan(ctx) // one pass up front, then the schedule takes over
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "directory to watch (repeatable)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "scan schedule")
	return cmd
}

type translateOptions struct {
	Resume     bool
	ImagesOnly bool
}

// translateBook runs the whole pipeline for one file: open, extract,
// translate, reassemble, save.
func translateBook(ctx context.Context, cfg *config.Config, input, output string, opts translateOptions) error {
	book, err := epub.Open(input)
	if err != nil {
		return err
	}

	sourceLang := cfg.Translate.SourceLang
	if sourceLang == lang.Auto {
		sourceLang = detectBookLanguage(book)
		log.Info("detected source language: %s (%s)", sourceLang, lang.Label(sourceLang))
	}
	targetLang := cfg.Translate.TargetLang
	if sourceLang == targetLang {
		return fmt.Errorf("book already appears to be in %s", lang.Label(targetLang))
	}

	adapter, err := backend.New(cfg.Translate.Service, cfg.AdapterOptions())
	if err != nil {
		return err
	}

	var store *cache.Store
	if !cfg.Cache.Disable {
		store, err = openCacheAt(cfg.Cache.Dir)
		if err != nil {
			log.Warn("cache unavailable, translating without it: %v", err)
		} else {
			defer store.Close()
		}
	}

	units := epub.ExtractUnits(book, sourceLang, targetLang)
	if opts.ImagesOnly {
		var images []unit.Unit
		for _, u := range units {
			if u.Kind == unit.KindImage {
				images = append(images, u)
			}
		}
		units = images
	}
	log.Info("%s: %d unit(s) to process", input, len(units))

	orch := orchestrator.New(orchestrator.Deps{
		Adapter:          adapter,
		Cache:            store,
		CheckpointPath:   checkpoint.PathFor(output),
		Resume:           opts.Resume,
		TextWorkers:      cfg.Workers.TextWorkers,
		ImageWorkers:     cfg.Workers.ImageWorkers,
		RateLimitRetries: cfg.Workers.RateLimitRetries,
	})
	result, err := orch.Run(ctx, units)
	if err != nil {
		return err
	}

	if err := epub.ApplyResults(book, result.Value, cfg.Translate.Bilingual); err != nil {
		return err
	}
	if !opts.ImagesOnly {
		if title := book.Title(); title != "" {
			if translated, err := orch.TranslateString(ctx, title, sourceLang, targetLang); err == nil {
				book.SetTitle(translated)
			} else {
				log.Warn("title translation failed: %v", err)
			}
		}
		book.SetLanguage(targetLang)
	}
	if err := book.Save(output); err != nil {
		return err
	}

	printReport(output, result.Report)
	if result.Failed() {
		log.Warn("%d unit(s) failed and keep their original content; rerun to retry",
			result.Report.Text.Failed+result.Report.Images.Failed)
	}
	return nil
}

// detectBookLanguage prefers the declared dc:language and falls back
// to statistical detection over the opening text.
func detectBookLanguage(book *epub.Book) string {
	if declared := book.Language(); declared != "" && declared != "und" {
		if code, err := lang.Validate(declared); err == nil {
			return code
		}
	}
	var sample strings.Builder
	for _, u := range epub.ExtractUnits(book, "", "") {
		if u.Kind != unit.KindText {
			continue
		}
		sample.WriteString(u.Text())
		sample.WriteByte(' ')
		if sample.Len() > 4000 {
			break
		}
	}
	if code := lang.Detect(sample.String()); code != lang.Auto {
		return code
	}
	return "en"
}

func printReport(output string, r orchestrator.Report) {
	fmt.Printf("\n%s\n", output)
	fmt.Printf("  service:  %s (run %s)\n", r.Service, r.RunID)
	fmt.Printf("  text:     %d ok, %d failed (%d cached, %d resumed) in %.1fs\n",
		r.Text.Succeeded, r.Text.Failed, r.Text.FromCache, r.Text.FromCheckpoint, r.TextSeconds)
	if r.Images.Total > 0 {
		fmt.Printf("  images:   %d ok, %d failed (%d cached) in %.1fs\n",
			r.Images.Succeeded, r.Images.Failed, r.Images.FromCache, r.ImageSeconds)
	}
	if r.CacheStats != nil {
		fmt.Printf("  cache:    %d entries, %.0f%% hit rate\n",
			r.CacheStats.TranslationCount, r.CacheStats.HitRate()*100)
	}
	fmt.Printf("  total:    %.1fs\n", r.TotalSeconds)
}

func loadConfig(opts ...config.Option) (*config.Config, error) {
	cfg, err := config.NewFromEnv(envFile, opts...)
	if err != nil {
		return nil, err
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func openCache() (*cache.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openCacheAt(cfg.Cache.Dir)
}

func openCacheAt(dir string) (*cache.Store, error) {
	if dir == "" {
		dir = cache.DefaultDir()
	}
	return cache.Open(dir)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
