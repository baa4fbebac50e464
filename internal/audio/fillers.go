package audio

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/wolfman30/ligai/pkg/logging"
)

// DefaultFillerPhrases are short acknowledgements played while a reply is
// being generated.
var DefaultFillerPhrases = []string{
	"Entendi perfeitamente.",
	"Certo, compreendi.",
	"Ok, entendi você.",
	"Perfeito, compreendi.",
	"Certo, entendi o que você disse.",
}

// Synthesizer renders text as telephony PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// FillerCache holds the pre-rendered filler clips shared by every call.
type FillerCache struct {
	store   *FileStore
	phrases []string
	logger  *logging.Logger

	mu    sync.RWMutex
	clips []Clip
}

// NewFillerCache uses DefaultFillerPhrases when phrases is empty.
func NewFillerCache(store *FileStore, phrases []string, logger *logging.Logger) *FillerCache {
	if len(phrases) == 0 {
		phrases = DefaultFillerPhrases
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FillerCache{store: store, phrases: phrases, logger: logger}
}

func fillerName(i int) string {
	return fmt.Sprintf("%s/filler_%d.wav", FillerDir, i)
}

// Warm loads clips already on disk and synthesizes the missing ones.
// Individual failures are logged; the cache serves whatever succeeded.
func (f *FillerCache) Warm(ctx context.Context, synth Synthesizer) int {
	var clips []Clip
	for i, phrase := range f.phrases {
		name := fillerName(i)
		if clip, ok := f.store.Lookup(name); ok {
			clips = append(clips, clip)
			continue
		}
		if synth == nil {
			continue
		}
		pcm, err := synth.Synthesize(ctx, phrase)
		if err != nil {
			f.logger.Warn("filler synthesis failed", "phrase", phrase, "error", err)
			continue
		}
		clip, err := f.store.Save(name, pcm)
		if err != nil {
			f.logger.Warn("filler save failed", "phrase", phrase, "error", err)
			continue
		}
		clips = append(clips, clip)
	}

	f.mu.Lock()
	f.clips = clips
	f.mu.Unlock()
	f.logger.Info("filler clips ready", "ready", len(clips), "total", len(f.phrases))
	return len(clips)
}

// Random returns one cached clip, or false when none are ready.
func (f *FillerCache) Random() (Clip, bool) {
	if f == nil {
		return Clip{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.clips) == 0 {
		return Clip{}, false
	}
	return f.clips[rand.IntN(len(f.clips))], true
}
