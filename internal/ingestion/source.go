package ingestion

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/54b3r/studyai-go/internal/apperr"
)

// SourceInfo is metadata inferred from a source URL or file name.
type SourceInfo struct {
	// Title is a human-readable title derived from the last path segment.
	Title string
	// Format is "markdown" or "text".
	Format string
}

// textExtensions maps accepted file extensions to their format label.
var textExtensions = map[string]string{
	"":          "text",
	".txt":      "text",
	".text":     "text",
	".md":       "markdown",
	".markdown": "markdown",
}

// InferSource inspects a URL or file path and returns best-effort metadata.
// Unknown shapes fall back to the title "Untitled" and format "text".
//
//	https://example.edu/notes/cell-biology.md → "Cell Biology", markdown
//	/tmp/chapter_3_photosynthesis.txt         → "Chapter 3 Photosynthesis", text
func InferSource(raw string) SourceInfo {
	info := SourceInfo{Title: "Untitled", Format: "text"}

	p := raw
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	segments := trimSegments(p)
	if len(segments) == 0 {
		return info
	}

	last := segments[len(segments)-1]
	ext := strings.ToLower(path.Ext(last))
	if f, ok := textExtensions[ext]; ok {
		info.Format = f
	}
	if t := humanize(strings.TrimSuffix(last, path.Ext(last))); t != "" {
		info.Title = t
	}
	return info
}

// Supported reports whether the extension of raw names a plain-text format.
func Supported(raw string) bool {
	_, ok := textExtensions[strings.ToLower(path.Ext(raw))]
	return ok
}

// humanize turns "cell-biology_notes" into "Cell Biology Notes".
func humanize(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r) })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// trimSegments splits a path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(strings.ReplaceAll(p, "\\", "/"), "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FetchText retrieves a plain-text or markdown document over HTTP. Other
// content types are rejected: text must be extracted before ingestion.
func (p *Pipeline) FetchText(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.StageIngestion, apperr.KindInvalidInput, "fetch", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.StageIngestion, apperr.KindIngestionFailed, "fetch", fmt.Errorf("http get: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(apperr.StageIngestion, apperr.KindIngestionFailed, "fetch",
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, rawURL))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || (mt != "text/plain" && mt != "text/markdown") {
			return "", apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "fetch",
				fmt.Sprintf("unsupported content type %q; only plain text and markdown are ingested", ct))
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxFetchBytes+1))
	if err != nil {
		return "", apperr.Wrap(apperr.StageIngestion, apperr.KindIngestionFailed, "fetch", fmt.Errorf("reading body: %w", err))
	}
	if int64(len(body)) > p.cfg.MaxFetchBytes {
		return "", apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "fetch",
			fmt.Sprintf("document exceeds %d bytes", p.cfg.MaxFetchBytes))
	}
	return string(body), nil
}
