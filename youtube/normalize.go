package youtube

import (
	"fmt"
	"regexp"
	"strings"
)

type urlPattern struct {
	kind Kind
	re   *regexp.Regexp
}

// Patterns are tried in order and the first match wins, so a watch URL that
// also carries list= resolves to the video, not the playlist.
var urlPatterns = []urlPattern{
	{KindVideo, regexp.MustCompile(`(?i:youtube\.com)/watch\?(?:[^#\n]*&)?v=([^&\n?#]+)`)},
	{KindVideo, regexp.MustCompile(`(?i:youtu\.be)/([^&\n?#/]+)`)},
	{KindVideo, regexp.MustCompile(`(?i:youtube(?:-nocookie)?\.com)/embed/([^&\n?#/]+)`)},
	{KindVideo, regexp.MustCompile(`(?i:youtube\.com)/shorts/([^&\n?#/]+)`)},
	{KindPlaylist, regexp.MustCompile(`(?i:youtube\.com)/playlist\?(?:[^#\n]*&)?list=([^&\n?#]+)`)},
}

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Normalize maps raw user input to a VideoReference or a SearchQuery.
// Empty input yields ErrEmptyInput. A recognized URL shape whose id is not
// URL-safe yields ErrInvalidInput. Anything else is a search query.
func Normalize(input string) (Target, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, ErrEmptyInput
	}

	for _, p := range urlPatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		id := m[1]
		if !idRegex.MatchString(id) {
			return nil, fmt.Errorf("%w: malformed %s id %q", ErrInvalidInput, p.kind, id)
		}
		return VideoReference{kind: p.kind, id: id, sourceURL: s}, nil
	}

	return SearchQuery{Text: s}, nil
}

// NormalizeReference is Normalize restricted to URL input: search text is
// reported as ErrInvalidInput.
func NormalizeReference(input string) (VideoReference, error) {
	t, err := Normalize(input)
	if err != nil {
		return VideoReference{}, err
	}
	ref, ok := t.(VideoReference)
	if !ok {
		return VideoReference{}, fmt.Errorf("%w: not a recognized video or playlist url", ErrInvalidInput)
	}
	return ref, nil
}

// ExtractID is a convenience wrapper returning only the id.
func ExtractID(input string) (string, error) {
	ref, err := NormalizeReference(input)
	if err != nil {
		return "", err
	}
	return ref.ID(), nil
}
