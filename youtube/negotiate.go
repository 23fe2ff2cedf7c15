package youtube

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// QualityLadder lists the common quality labels from lowest to highest.
// Catalogs are not required to offer any of them.
var QualityLadder = []string{"144p", "240p", "360p", "480p", "720p", "1080p", "1440p", "2160p", "4320p"}

// DefaultQuality is used when a request does not name one.
const DefaultQuality = "720p"

var qualityLabelRegex = regexp.MustCompile(`^(\d{2,4})(?:p(\d{2,3})?)?$`)

// ImpliedHeight parses a quality label such as "720p", "1080p60", "4k" or
// "1440" into a pixel height. Unparseable labels give 0.
func ImpliedHeight(label string) int {
	s := strings.ToLower(strings.TrimSpace(label))
	switch s {
	case "2k":
		return 1440
	case "4k":
		return 2160
	case "8k":
		return 4320
	}
	m := qualityLabelRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return h
}

type indexed struct {
	pos int
	f   FormatDescriptor
}

// Negotiate selects the rendition that best matches requested from catalog.
//
// An exact label match wins; otherwise the highest entry not above the
// requested height; otherwise the highest available. Entries without a
// height never take part in height comparisons and are only picked when no
// entry has one. A video entry without audio yields a demuxed rendition
// paired with the best audio-only entry.
//
// EffectiveQuality always names a label that negotiates back to the same
// entry when the catalog allows one, so renegotiating is a no-op.
func Negotiate(catalog Catalog, requested string) (Rendition, error) {
	entries := make([]indexed, 0, len(catalog))
	for i, f := range catalog {
		if f.RemoteURL != "" {
			entries = append(entries, indexed{pos: i, f: f})
		}
	}
	if len(entries) == 0 {
		return Rendition{}, ErrNoFormatsAvailable
	}

	best := pick(entries, requested)
	r := renditionFor(best.f, catalog)
	r.EffectiveQuality = stableLabel(entries, best)
	return r, nil
}

// stableLabel returns the first of the entry's own label, its height label
// and its height+fps label that picks the entry again. Backends reuse labels
// such as "hd" across heights, which makes the own label ambiguous.
func stableLabel(entries []indexed, chosen indexed) string {
	labels := []string{chosen.f.Label()}
	if h := chosen.f.HeightPx; h > 0 {
		labels = append(labels, fmt.Sprintf("%dp", h))
		if chosen.f.FPS > 0 {
			labels = append(labels, fmt.Sprintf("%dp%d", h, int(chosen.f.FPS)))
		}
	}
	for _, l := range lo.Uniq(labels) {
		if pick(entries, l).pos == chosen.pos {
			return l
		}
	}
	return labels[0]
}

func pick(entries []indexed, requested string) indexed {
	requested = strings.TrimSpace(requested)
	limit := ImpliedHeight(requested)
	withHeight := lo.Filter(entries, func(e indexed, _ int) bool { return e.f.HeightPx > 0 })

	var candidates []indexed
	if requested != "" {
		candidates = lo.Filter(entries, func(e indexed, _ int) bool {
			if !strings.EqualFold(e.f.Label(), requested) {
				return false
			}
			return limit == 0 || e.f.HeightPx <= limit
		})
	}
	if len(candidates) == 0 && limit > 0 {
		candidates = lo.Filter(withHeight, func(e indexed, _ int) bool { return e.f.HeightPx <= limit })
	}
	if len(candidates) == 0 {
		candidates = withHeight
	}
	if len(candidates) == 0 {
		candidates = entries
	}

	return rank(candidates)[0]
}

// rank orders candidates best first: height, muxed, has video, fps, size,
// bitrate, then catalog order.
func rank(candidates []indexed) []indexed {
	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b indexed) int {
		if c := cmp.Compare(b.f.HeightPx, a.f.HeightPx); c != 0 {
			return c
		}
		if c := cmpBool(b.f.Muxed(), a.f.Muxed()); c != 0 {
			return c
		}
		if c := cmpBool(b.f.HasVideo, a.f.HasVideo); c != 0 {
			return c
		}
		if c := cmp.Compare(b.f.FPS, a.f.FPS); c != 0 {
			return c
		}
		if c := cmp.Compare(b.f.ApproxSizeBytes, a.f.ApproxSizeBytes); c != 0 {
			return c
		}
		if c := cmp.Compare(b.f.Bitrate, a.f.Bitrate); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})
	return out
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

func renditionFor(f FormatDescriptor, catalog Catalog) Rendition {
	r := Rendition{
		PlaybackURL:      f.RemoteURL,
		DownloadVideoURL: f.RemoteURL,
		EffectiveQuality: f.Label(),
	}
	if f.HasAudio || !f.HasVideo {
		return r
	}

	r.IsDemuxed = true
	if audio, ok := BestAudio(catalog); ok {
		r.DownloadAudioURL = audio.RemoteURL
	}
	return r
}

// BestAudio returns the audio-only entry with the highest bitrate, using
// size to break ties.
func BestAudio(catalog Catalog) (FormatDescriptor, bool) {
	audio := lo.Filter(catalog, func(f FormatDescriptor, _ int) bool {
		return f.AudioOnly() && f.RemoteURL != ""
	})
	if len(audio) == 0 {
		return FormatDescriptor{}, false
	}
	return lo.MaxBy(audio, func(a, b FormatDescriptor) bool {
		if a.Bitrate != b.Bitrate {
			return a.Bitrate > b.Bitrate
		}
		return a.ApproxSizeBytes > b.ApproxSizeBytes
	}), true
}

// Heights returns the distinct positive heights in the catalog, highest first.
func (c Catalog) Heights() []int {
	hs := lo.Uniq(lo.FilterMap(c, func(f FormatDescriptor, _ int) (int, bool) {
		return f.HeightPx, f.HeightPx > 0
	}))
	slices.SortFunc(hs, func(a, b int) int { return cmp.Compare(b, a) })
	return hs
}
