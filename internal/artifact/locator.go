package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
)

// Locator resolves logical firmware file names to bytes.
type Locator struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewLocator creates a locator. A nil logger uses slog.Default().
func NewLocator(f Fetcher, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{fetcher: f, logger: logger}
}

// Resolve returns the contents of the logical file name. Sources are tried
// in order and the first applicable one wins:
//
//  1. a direct binary URL for the file's role
//  2. a direct or derived UF2 URL, for UF2 names
//  3. the file next to the release archive on the server
//  4. a member of an uploaded archive
//  5. an uploaded plain file, whatever its name
func (l *Locator) Resolve(ctx context.Context, fw *catalog.Firmware, name string, up *Upload) ([]byte, error) {
	if fw != nil {
		if url := DirectURL(fw, name); url != "" {
			l.logger.Debug("loading binary directly", "name", name, "url", url)
			return l.fetch(ctx, name, url)
		}
		if IsUF2(name) {
			if url := UF2URL(fw); url != "" {
				l.logger.Debug("loading UF2 directly", "name", name, "url", url)
				return l.fetch(ctx, name, url)
			}
		}
		if fw.ZipURL != "" {
			url := ArchiveBase(fw.ZipURL) + "/" + name
			l.logger.Debug("loading from release archive", "name", name, "url", url)
			return l.fetch(ctx, name, url)
		}
	}

	if up != nil {
		if up.IsArchive() {
			return l.fromArchive(up, name)
		}
		l.logger.Debug("using uploaded file", "name", name, "file", up.Name)
		return up.Data, nil
	}

	return nil, &NotFoundError{Name: name}
}

func (l *Locator) fetch(ctx context.Context, name, url string) ([]byte, error) {
	if l.fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured for %s", url)
	}
	data, err := l.fetcher.Fetch(ctx, url)
	var fe *FetchError
	if errors.As(err, &fe) && fe.Missing() {
		return nil, &NotFoundError{Name: name, Err: err}
	}
	return data, err
}

func (l *Locator) fromArchive(up *Upload, name string) ([]byte, error) {
	entries, err := Entries(up.Data)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("searching archive", "file", up.Name, "pattern", name, "entries", len(entries))

	e, err := Match(entries, name)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("found archive member", "member", e.Name)

	data, err := e.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", e.Name, err)
	}
	return data, nil
}

// DirectURL returns the bin_urls entry for the role of name, if any.
func DirectURL(fw *catalog.Firmware, name string) string {
	key := Classify(name).Key()
	if key == "" || fw.BinURLs == nil {
		return ""
	}
	return fw.BinURLs[key]
}

// UF2URL picks a UF2 URL from uf2_urls, preferring "update" then "full".
// Without one it derives a URL from the update or factory binary.
func UF2URL(fw *catalog.Firmware) string {
	keys := make([]string, 0, len(fw.UF2URLs))
	for k := range fw.UF2URLs {
		if k != "update" && k != "full" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	keys = append([]string{"update", "full"}, keys...)

	for _, k := range keys {
		if u := fw.UF2URLs[k]; strings.HasSuffix(strings.ToLower(u), ".uf2") {
			return u
		}
	}

	for _, k := range []string{"update", "factory"} {
		if u := fw.BinURLs[k]; u != "" {
			return swapExt(u, ".uf2")
		}
	}
	return ""
}

// ArchiveBase returns the directory URL holding the unpacked archive.
func ArchiveBase(zipURL string) string {
	return strings.TrimSuffix(strings.TrimSuffix(zipURL, "/"), ".zip")
}

// swapExt replaces the extension of the last path segment of u. The
// ".factory.bin" and "-update.bin" forms are stripped as a whole.
func swapExt(u, ext string) string {
	slash := strings.LastIndex(u, "/")
	dir, file := u[:slash+1], u[slash+1:]
	for _, suffix := range []string{".factory.bin", "-update.bin", ".bin"} {
		if strings.HasSuffix(file, suffix) {
			return dir + strings.TrimSuffix(file, suffix) + ext
		}
	}
	if dot := strings.LastIndex(file, "."); dot > 0 {
		file = file[:dot]
	}
	return dir + file + ext
}
