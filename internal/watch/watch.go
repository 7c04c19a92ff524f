// Package watch scans library directories on a cron schedule and
// translates any book that does not have a translated counterpart yet.
package watch

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/epubtrans/epubtrans/pkg/file"
	"github.com/epubtrans/epubtrans/pkg/icron"
	"github.com/epubtrans/epubtrans/pkg/log"
)

// TranslateFunc translates one book file to its output path.
type TranslateFunc func(ctx context.Context, inputPath, outputPath string) error

// Service runs scheduled scans. Overlapping triggers collapse into a
// single scan via singleflight, so a slow book never stacks runs.
type Service struct {
	cron       *cron.Cron
	cronExpr   string
	dirs       []string
	targetLang string
	translate  TranslateFunc

	group singleflight.Group
}

func NewService(c *cron.Cron, cronExpr string, dirs []string, targetLang string, translate TranslateFunc) *Service {
	return &Service{
		cron:       c,
		cronExpr:   cronExpr,
		dirs:       dirs,
		targetLang: targetLang,
		translate:  translate,
	}
}

// Schedule registers the scan job. The cron instance is started by the
// caller.
func (s *Service) Schedule(ctx context.Context) error {
	if info, err := icron.GetTriggerInfo(s.cronExpr, time.Now()); err == nil {
		log.Info("watch: schedule %q, next scan at %s", s.cronExpr, info.Next.Format(time.RFC3339))
	}
	_, err := s.cron.AddFunc(s.cronExpr, func() {
		_, _, _ = s.group.Do("scan", func() (any, error) {
			s.Scan(ctx)
			return nil, nil
		})
	})
	return err
}

// Scan walks every watch dir once and translates pending books
// sequentially. Failures are logged per book; one bad file never
// blocks the rest of the library.
func (s *Service) Scan(ctx context.Context) {
	for _, dir := range s.dirs {
		books, err := file.FindByExt(dir, ".epub")
		if err != nil {
			log.Error("watch: scan %s failed: %v", dir, err)
			continue
		}
		pending := 0
		for _, book := range books {
			if ctx.Err() != nil {
				return
			}
			if file.IsTranslatedPath(book, s.targetLang) {
				continue
			}
			out := file.TranslatedPath(book, s.targetLang)
			if _, err := os.Stat(out); err == nil {
				continue
			}
			pending++
			log.Info("watch: translating %s", book)
			if err := s.translate(ctx, book, out); err != nil {
				log.Error("watch: %s failed: %v", book, err)
			}
		}
		log.Info("watch: %s scanned, %d book(s) processed", dir, pending)
	}
}
