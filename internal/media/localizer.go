// Package media copies generated audio and video referenced by
// transcript records into the local asset directories.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"

	"github.com/nugget/chattr/internal/httpkit"
	"github.com/nugget/chattr/internal/tools"
	"github.com/nugget/chattr/internal/transcript"
)

// DefaultTimeout bounds a single media download, playlist included.
const DefaultTimeout = 30 * time.Second

// maxPlaylistBytes caps how much of an m3u8 playlist is read.
const maxPlaylistBytes = 1 << 20

// maxPlaylistDepth bounds master to variant redirection.
const maxPlaylistDepth = 3

// LocalizerConfig configures a Localizer.
type LocalizerConfig struct {
	AudioDir string
	VideoDir string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// Localizer downloads remote media refs into local files.
type Localizer struct {
	dirs    map[tools.Kind]string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewLocalizer returns a Localizer. Missing directories are created on
// first download.
func NewLocalizer(cfg LocalizerConfig) *Localizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Localizer{
		dirs: map[tools.Kind]string{
			tools.Audio: cfg.AudioDir,
			tools.Video: cfg.VideoDir,
		},
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger.With("component", "media"),
	}
}

// Localize returns rec with its media ref replaced by a local path when
// the ref is an http(s) URL and the download succeeds. Any other record
// is returned unchanged, and so is rec when the download fails.
func (l *Localizer) Localize(ctx context.Context, rec transcript.Record) transcript.Record {
	if l == nil || rec.Media == nil || !isRemote(rec.Media.Ref) {
		return rec
	}
	dir := l.dirs[rec.Media.Kind]
	if dir == "" {
		return rec
	}

	name := ""
	if rec.Metadata != nil {
		name = rec.Metadata.ID
	}
	if name == "" {
		name = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	local, err := l.download(ctx, rec.Media.Kind, rec.Media.Ref, dir, name)
	if err != nil {
		l.logger.Warn("media download failed",
			"kind", rec.Media.Kind,
			"ref", rec.Media.Ref,
			"error", err,
		)
		return rec
	}
	l.logger.Debug("media localized",
		"kind", rec.Media.Kind,
		"ref", rec.Media.Ref,
		"path", local,
		"elapsed", time.Since(start),
	)

	out := rec
	m := *rec.Media
	m.Ref = local
	out.Media = &m
	return out
}

func (l *Localizer) download(ctx context.Context, kind tools.Kind, ref, dir, name string) (string, error) {
	src, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref: %w", err)
	}
	if strings.HasSuffix(strings.ToLower(src.Path), ".m3u8") {
		src, err = l.firstSegment(ctx, src)
		if err != nil {
			return "", err
		}
	}

	resp, err := l.get(ctx, src.String())
	if err != nil {
		return "", err
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, sanitize(name)+extension(kind, src.Path))

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", dest, err)
	}
	return dest, nil
}

// firstSegment fetches an m3u8 playlist and resolves its first media
// segment against the playlist URL. A master playlist is followed through
// its first variant.
func (l *Localizer) firstSegment(ctx context.Context, playlist *url.URL) (*url.URL, error) {
	for depth := 0; depth < maxPlaylistDepth; depth++ {
		p, kind, err := l.decodePlaylist(ctx, playlist)
		if err != nil {
			return nil, err
		}

		var ref string
		switch kind {
		case m3u8.MASTER:
			master := p.(*m3u8.MasterPlaylist)
			for _, v := range master.Variants {
				if v != nil && v.URI != "" {
					ref = v.URI
					break
				}
			}
			if ref == "" {
				return nil, fmt.Errorf("playlist %s has no variants", playlist.Redacted())
			}
		case m3u8.MEDIA:
			media := p.(*m3u8.MediaPlaylist)
			for _, seg := range media.Segments {
				if seg != nil && seg.URI != "" {
					ref = seg.URI
					break
				}
			}
			if ref == "" {
				return nil, fmt.Errorf("playlist %s has no segments", playlist.Redacted())
			}
		default:
			return nil, fmt.Errorf("playlist %s has unknown type", playlist.Redacted())
		}

		next, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("parse playlist entry %q: %w", ref, err)
		}
		next = playlist.ResolveReference(next)
		if kind == m3u8.MEDIA {
			return next, nil
		}
		playlist = next
	}
	return nil, fmt.Errorf("playlist %s nests deeper than %d levels", playlist.Redacted(), maxPlaylistDepth)
}

func (l *Localizer) decodePlaylist(ctx context.Context, playlist *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	resp, err := l.get(ctx, playlist.String())
	if err != nil {
		return nil, 0, err
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	p, kind, err := m3u8.DecodeFrom(io.LimitReader(resp.Body, maxPlaylistBytes), false)
	if err != nil {
		return nil, 0, fmt.Errorf("decode playlist %s: %w", playlist.Redacted(), err)
	}
	return p, kind, nil
}

func (l *Localizer) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("get %s: status %d: %s", u, resp.StatusCode, body)
	}
	return resp, nil
}

func isRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func extension(kind tools.Kind, p string) string {
	if ext := path.Ext(p); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	if kind == tools.Video {
		return ".mp4"
	}
	return ".mp3"
}

// sanitize keeps call ids usable as file names.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
