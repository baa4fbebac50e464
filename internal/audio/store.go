package audio

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FillerDir is the subdirectory holding the reusable filler clips.
const FillerDir = "fillers"

var ErrInvalidName = errors.New("audio: invalid clip name")

// Clip is a WAV file visible under both mounts.
type Clip struct {
	Name       string
	AppPath    string
	SwitchPath string
	PCMBytes   int
}

// Duration is the clip's playback length.
func (c Clip) Duration() time.Duration {
	return PlaybackDuration(c.PCMBytes)
}

// FileStore writes clips into appDir, which the switch sees as switchDir.
type FileStore struct {
	appDir    string
	switchDir string
}

// NewFileStore creates appDir (and its filler subdirectory) when missing.
func NewFileStore(appDir, switchDir string) (*FileStore, error) {
	if strings.TrimSpace(appDir) == "" || strings.TrimSpace(switchDir) == "" {
		return nil, errors.New("audio: both audio directories are required")
	}
	if err := os.MkdirAll(filepath.Join(appDir, FillerDir), 0o755); err != nil {
		return nil, fmt.Errorf("audio: create audio dir: %w", err)
	}
	return &FileStore{appDir: appDir, switchDir: strings.TrimRight(switchDir, "/")}, nil
}

// SaveTemp stores pcm under a fresh tts_<hex>.wav name.
func (s *FileStore) SaveTemp(pcm []byte) (Clip, error) {
	name := "tts_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ".wav"
	return s.Save(name, pcm)
}

// Save writes pcm as a WAV file at name, relative to the store root.
// The file appears atomically so the switch never reads a partial clip.
func (s *FileStore) Save(name string, pcm []byte) (Clip, error) {
	clip, err := s.clip(name)
	if err != nil {
		return Clip{}, err
	}
	if err := os.MkdirAll(filepath.Dir(clip.AppPath), 0o755); err != nil {
		return Clip{}, fmt.Errorf("audio: create clip dir: %w", err)
	}
	tmp := clip.AppPath + ".part"
	if err := os.WriteFile(tmp, EncodeWAV(pcm), 0o644); err != nil {
		return Clip{}, fmt.Errorf("audio: write clip: %w", err)
	}
	if err := os.Rename(tmp, clip.AppPath); err != nil {
		_ = os.Remove(tmp)
		return Clip{}, fmt.Errorf("audio: publish clip: %w", err)
	}
	clip.PCMBytes = len(pcm)
	return clip, nil
}

// Lookup returns an existing clip.
func (s *FileStore) Lookup(name string) (Clip, bool) {
	clip, err := s.clip(name)
	if err != nil {
		return Clip{}, false
	}
	info, err := os.Stat(clip.AppPath)
	if err != nil || info.IsDir() || info.Size() <= wavHeaderSize {
		return Clip{}, false
	}
	clip.PCMBytes = int(info.Size()) - wavHeaderSize
	return clip, true
}

// Remove deletes a clip. Missing files are not an error.
func (s *FileStore) Remove(clip Clip) error {
	if clip.AppPath == "" {
		return nil
	}
	if err := os.Remove(clip.AppPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("audio: remove clip: %w", err)
	}
	return nil
}

func (s *FileStore) clip(name string) (Clip, error) {
	clean := path.Clean(strings.TrimSpace(name))
	if clean == "." || clean == "" || strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "..") {
		return Clip{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return Clip{
		Name:       clean,
		AppPath:    filepath.Join(s.appDir, filepath.FromSlash(clean)),
		SwitchPath: s.switchDir + "/" + clean,
	}, nil
}
