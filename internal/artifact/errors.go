package artifact

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrArtifactNotFound matches every NotFoundError with errors.Is.
var ErrArtifactNotFound = errors.New("artifact not found")

// NotFoundError indicates that no resolution path produced the file.
// Candidates is set when several archive members matched equally well.
// Err holds the download failure when the server had no such file.
type NotFoundError struct {
	Name       string
	Candidates []string
	Err        error
}

func (e *NotFoundError) Error() string {
	if len(e.Candidates) > 1 {
		return fmt.Sprintf("artifact %q is ambiguous: matches %s", e.Name, strings.Join(e.Candidates, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("artifact %q not found: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("artifact %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrArtifactNotFound
}

// Ambiguous reports whether the lookup failed because of several matches.
func (e *NotFoundError) Ambiguous() bool {
	return len(e.Candidates) > 1
}

// FetchError describes a failed download.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Missing reports whether the server said the file does not exist.
func (e *FetchError) Missing() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}
