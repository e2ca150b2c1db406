// Package reconcile computes the diff between tracked playlist membership and
// the local audio library.
package reconcile

import (
	"regexp"
	"strings"
)

// bracketedIDPattern matches a bracketed media ID embedded in a filename,
// e.g. "Artist - Song [dQw4w9WgXcQ].m4a". The 6-50 length band admits
// non-YouTube extractor ID schemes without false-positiving on short
// incidental bracketed substrings like track numbers.
var bracketedIDPattern = regexp.MustCompile(`\[([A-Za-z0-9_-]{6,50})\]`)

// RemoteRef identifies one video that should exist locally, derived from
// playlist membership at the start of a sync run.
type RemoteRef struct {
	VideoID       string
	Title         string
	PlaylistURL   string
	PlaylistIndex int // 1-based position within the playlist, 0 for single videos
}

// LocalFile is one scanned file in the audio directory.
type LocalFile struct {
	Path           string
	Name           string
	NormalizedName string // NormalizeKey of the basename without extension
	BracketedID    string // empty when no bracketed ID was found
}

// TitleIndex maps normalized titles to video IDs. It is built while parsing
// playlist membership and used only as a fallback when bracketed-ID lookup
// fails.
type TitleIndex map[string]string

// Add records a title for a video ID. Empty titles are ignored.
func (ti TitleIndex) Add(title, videoID string) {
	key := NormalizeKey(title)
	if key == "" {
		return
	}
	ti[key] = videoID
}

// Plan is the outcome of reconciling remote membership against local files.
type Plan struct {
	ToDelete   []LocalFile
	ToDownload []RemoteRef
}

// Empty reports whether the plan requires no work.
func (p Plan) Empty() bool {
	return len(p.ToDelete) == 0 && len(p.ToDownload) == 0
}

// NormalizeKey lowercases text and strips everything outside [a-z0-9].
// The mapping is locale-invariant: identical inputs always produce identical
// keys regardless of host settings, so filename/title comparisons never
// depend on the environment.
func NormalizeKey(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// ExtractBracketedID returns the inner content of the first bracketed ID in
// filename, or "" when no well-formed bracket is present.
func ExtractBracketedID(filename string) string {
	m := bracketedIDPattern.FindStringSubmatch(filename)
	if m == nil {
		return ""
	}
	return m[1]
}

// BuildMatchedSet returns the video IDs considered already present locally.
//
// A remote ref is matched when a local file carries its video ID in brackets,
// or, failing that, when the title index maps some normalized title to that
// video ID and a local file's normalized basename equals that title. The
// fallback requires both the ID and the title to agree, so manually renamed
// files are recovered without over-matching. A remote video absent from the
// title index can only match via bracketed ID.
func BuildMatchedSet(refs []RemoteRef, files []LocalFile, titles TitleIndex) map[string]struct{} {
	byID := make(map[string]struct{}, len(files))
	byName := make(map[string]struct{}, len(files))
	for _, f := range files {
		if f.BracketedID != "" {
			byID[f.BracketedID] = struct{}{}
		}
		if f.NormalizedName != "" {
			byName[f.NormalizedName] = struct{}{}
		}
	}

	matched := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := byID[ref.VideoID]; ok {
			matched[ref.VideoID] = struct{}{}
			continue
		}
		for normTitle, id := range titles {
			if id != ref.VideoID {
				continue
			}
			if _, ok := byName[normTitle]; ok {
				matched[ref.VideoID] = struct{}{}
				break
			}
		}
	}
	return matched
}

// BuildPlan computes the sync plan from remote membership and local files.
//
// ToDelete contains local files whose bracketed ID is not present in any
// remote ref; files without a bracketed ID are never auto-deleted, since
// there is no reliable identity to check against remote membership.
// ToDownload contains remote refs not in the matched set, preserving the
// original per-playlist ordering so each item can be re-fetched by index.
// A video tracked in several playlists yields a single download: the first
// ref for each video ID wins.
func BuildPlan(refs []RemoteRef, files []LocalFile, matched map[string]struct{}) Plan {
	remoteIDs := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		remoteIDs[ref.VideoID] = struct{}{}
	}

	var plan Plan
	for _, f := range files {
		if f.BracketedID == "" {
			continue
		}
		if _, ok := remoteIDs[f.BracketedID]; !ok {
			plan.ToDelete = append(plan.ToDelete, f)
		}
	}
	queued := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := matched[ref.VideoID]; ok {
			continue
		}
		if _, ok := queued[ref.VideoID]; ok {
			continue
		}
		queued[ref.VideoID] = struct{}{}
		plan.ToDownload = append(plan.ToDownload, ref)
	}
	return plan
}
