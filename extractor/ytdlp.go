package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"telegram-audio-bot/cache"
	"telegram-audio-bot/utils"
)

// YTDLP drives the yt-dlp binary. Its on-disk metadata cache is
// hydrated from and persisted back to the shared content cache so cold
// worker instances reuse signatures and tokens across invocations. A
// circuit breaker around the subprocess fails fast when the binary or
// the network is broken instead of churning through the queue.
type YTDLP struct {
	binary  string
	workDir string
	cache   *cache.Cache
	breaker *utils.Breaker
	logger  *utils.Logger
}

func NewYTDLP(binary, workDir string, contentCache *cache.Cache, logger *utils.Logger) *YTDLP {
	return &YTDLP{
		binary:  binary,
		workDir: workDir,
		cache:   contentCache,
		breaker: utils.NewBreaker(5, 2*time.Minute),
		logger:  logger,
	}
}

type ytdlpInfo struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	AltTitle      string       `json:"alt_title"`
	Artist        string       `json:"artist"`
	PlaylistCount int          `json:"playlist_count"`
	ReleaseYear   json.Number  `json:"release_year"`
	Thumbnails    []ytdlpThumb `json:"thumbnails"`
	Entries       []ytdlpEntry `json:"entries"`
	Ext           string       `json:"ext"`
}

type ytdlpThumb struct {
	URL string `json:"url"`
}

type ytdlpEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (y *YTDLP) Flatten(ctx context.Context, url string) (*Info, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.binary,
		"--flat-playlist",
		"--dump-single-json",
		"--no-download",
		url,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := y.breaker.Do(cmd.Run); err != nil {
		return nil, fmt.Errorf("extraction failed: %s", extractorErrorText(&stderr, err))
	}

	var raw ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extractor output: %w", err)
	}

	artist, title := ParseArtistTitle(raw.Artist, rawTitle(&raw))
	info := &Info{
		ID:          raw.ID,
		Title:       title,
		Artist:      artist,
		ItemCount:   raw.PlaylistCount,
		ReleaseYear: raw.ReleaseYear.String(),
	}
	if info.ItemCount == 0 {
		info.ItemCount = len(raw.Entries)
	}
	if info.ReleaseYear == "0" {
		info.ReleaseYear = ""
	}

	// Prefer the second-largest thumbnail; the biggest is often
	// oversized for a chat photo.
	if n := len(raw.Thumbnails); n >= 2 {
		info.ThumbnailURL = raw.Thumbnails[n-2].URL
	} else if n == 1 {
		info.ThumbnailURL = raw.Thumbnails[0].URL
	}

	for _, e := range raw.Entries {
		info.Entries = append(info.Entries, Entry{ID: e.ID, Title: e.Title, URL: e.URL})
	}

	return info, nil
}

func (y *YTDLP) Download(ctx context.Context, url string) ([]File, error) {
	tmpDir, err := os.MkdirTemp(y.workDir, "extract-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	cacheDir := filepath.Join(tmpDir, ".cache")
	y.hydrateCache(ctx, cacheDir)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.binary,
		"--extract-audio",
		"--audio-format", "mp3",
		"--format", "bestaudio/best",
		"--cache-dir", cacheDir,
		"--output", filepath.Join(tmpDir, "%(id)s.%(ext)s"),
		"--print-json",
		url,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := y.breaker.Do(cmd.Run)
	y.persistCache(ctx, cacheDir)
	if runErr != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("extraction failed: %s", extractorErrorText(&stderr, runErr))
	}

	var files []File
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}

		var raw ytdlpInfo
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			y.logger.WithError(err).Warn("Skipping unparseable extractor output line")
			continue
		}

		path := filepath.Join(tmpDir, raw.ID+".mp3")
		stat, err := os.Stat(path)
		if err != nil {
			os.RemoveAll(tmpDir)
			return nil, fmt.Errorf("no audio produced for %s", raw.ID)
		}

		artist, title := ParseArtistTitle(raw.Artist, rawTitle(&raw))
		files = append(files, File{
			Path:   path,
			ID:     raw.ID,
			Title:  title,
			Artist: artist,
			Ext:    "mp3",
			Size:   stat.Size(),
		})
	}

	if len(files) == 0 {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("no audio stream found for %s", url)
	}

	return files, nil
}

// hydrateCache copies the shared content cache onto disk where yt-dlp
// expects it. Failures degrade to a cold cache.
func (y *YTDLP) hydrateCache(ctx context.Context, cacheDir string) {
	for _, entry := range y.cache.Entries(ctx) {
		data, ok := y.cache.Load(ctx, entry.Section, entry.Key)
		if !ok {
			continue
		}
		dir := filepath.Join(cacheDir, entry.Section)
		if err := os.MkdirAll(dir, 0755); err != nil {
			y.logger.WithError(err).Warn("Cache hydration failed")
			return
		}
		if err := os.WriteFile(filepath.Join(dir, entry.Key), data, 0644); err != nil {
			y.logger.WithError(err).WithField("key", entry.Key).Warn("Cache hydration write failed")
		}
	}
}

// persistCache pushes whatever yt-dlp wrote on disk back to the shared
// content cache. Failures are logged, never fatal to the job.
func (y *YTDLP) persistCache(ctx context.Context, cacheDir string) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return // no cache written this run
	}
	for _, sectionDir := range entries {
		if !sectionDir.IsDir() {
			continue
		}
		section := sectionDir.Name()
		files, err := os.ReadDir(filepath.Join(cacheDir, section))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(cacheDir, section, f.Name()))
			if err != nil {
				y.logger.WithError(err).Warn("Cache persist read failed")
				continue
			}
			y.cache.Store(ctx, section, f.Name(), data)
		}
	}
}

func rawTitle(raw *ytdlpInfo) string {
	if raw.Title != "" {
		return raw.Title
	}
	return raw.AltTitle
}

// extractorErrorText pulls the most useful line from stderr, falling
// back to the exec error. This text goes to the user.
func extractorErrorText(stderr *bytes.Buffer, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR") {
			return line
		}
	}
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return err.Error()
}
