package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"npc-voice/internal/domain"
)

// VoiceFileJanitor deletes synthesized voice files once they are older
// than the retention period. The game reads a file shortly after the
// npc_talk envelope names it, so anything older is unreferenced.
type VoiceFileJanitor struct {
	dir       string
	retention time.Duration
	bus       domain.EventBus
	logger    *slog.Logger
	now       func() time.Time
}

// NewVoiceFileJanitor creates a janitor for dir. bus may be nil.
func NewVoiceFileJanitor(dir string, retention time.Duration, bus domain.EventBus, logger *slog.Logger) *VoiceFileJanitor {
	return &VoiceFileJanitor{
		dir:       dir,
		retention: retention,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
	}
}

// Run removes expired files from the top level of the output directory
// and reports how many it removed. A zero retention keeps everything.
func (j *VoiceFileJanitor) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}
	entries, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return domain.WrapOp("VoiceFileJanitor.Run", err)
	}

	cutoff := j.now().Add(-j.retention)
	removed := 0
	var errs []error
	for _, e := range entries {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info("voice files pruned", "dir", j.dir, "removed", removed)
		domain.PublishEvent(ctx, j.bus, domain.EventVoiceFilesPruned, "",
			domain.VoiceFilesPrunedPayload{Dir: j.dir, Removed: removed})
	}
	return domain.WrapOp("VoiceFileJanitor.Run", errors.Join(errs...))
}
