package artifact

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
)

// variantMarkers name silicon variants that share a board name prefix.
var variantMarkers = []string{"s3"}

// Entry is one archive member.
type Entry struct {
	Name string
	open func() (io.ReadCloser, error)
}

// Read returns the member's contents.
func (e Entry) Read() ([]byte, error) {
	rc, err := e.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Entries lists the regular files of a zip archive held in memory.
func Entries(archive []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, open: f.Open})
	}
	return entries, nil
}

// pattern compiles a logical name; names that are not valid expressions
// are matched literally.
func pattern(name string) *regexp.Regexp {
	if re, err := regexp.Compile(name); err == nil {
		return re
	}
	return regexp.MustCompile(regexp.QuoteMeta(name))
}

// Match selects the member for a logical name.
//
// A member qualifies when its name matches the pattern, its update.bin
// suffix agrees with the request, and it carries no variant marker the
// request lacks. An exact name wins outright; otherwise exactly one member
// must qualify.
func Match(entries []Entry, name string) (Entry, error) {
	re := pattern(name)
	wantUpdate := isUpdateBin(name)

	var found []Entry
	for _, e := range entries {
		base := path.Base(e.Name)
		if base == name || e.Name == name {
			return e, nil
		}
		if !re.MatchString(base) {
			continue
		}
		if isUpdateBin(base) != wantUpdate {
			continue
		}
		if hasForeignVariant(base, name) {
			continue
		}
		found = append(found, e)
	}

	switch len(found) {
	case 0:
		return Entry{}, &NotFoundError{Name: name}
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, e := range found {
			names[i] = e.Name
		}
		return Entry{}, &NotFoundError{Name: name, Candidates: names}
	}
}

// hasForeignVariant reports whether candidate names a silicon variant that
// the requested name does not.
func hasForeignVariant(candidate, requested string) bool {
	ct := tokens(candidate)
	rt := tokens(requested)
	for _, m := range variantMarkers {
		if ct[m] && !rt[m] {
			return true
		}
	}
	return false
}

func tokens(name string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	}) {
		out[t] = true
	}
	return out
}
