package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/tunesync/internal/reconcile"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase passthrough", "mysong", "mysong"},
		{"uppercase folded", "MySong", "mysong"},
		{"punctuation stripped", "My Song (Official Video)!", "mysongofficialvideo"},
		{"digits kept", "Track 01", "track01"},
		{"unicode stripped", "café – song", "cafsong"},
		{"empty", "", ""},
		{"only punctuation", "!!! ---", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile.NormalizeKey(tt.input))
		})
	}
}

func TestNormalizeKeyCaseInsensitive(t *testing.T) {
	// Strings differing only by case or by characters outside [a-z0-9]
	// normalize to the same key.
	a := "My Song - Remix [2024]"
	b := "MY_SONG remix 2024"
	assert.Equal(t, reconcile.NormalizeKey(a), reconcile.NormalizeKey(b))
}

func TestExtractBracketedID(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"youtube id", "Artist - Song [dQw4w9WgXcQ].m4a", "dQw4w9WgXcQ"},
		{"first of multiple", "a [abcdef] b [ghijkl].opus", "abcdef"},
		{"no brackets", "plain file.mp3", ""},
		{"too short", "Track [1].mp3", ""},
		{"five chars too short", "song [abcde].mp3", ""},
		{"six chars ok", "song [abcdef].mp3", "abcdef"},
		{"fifty chars ok", "x [" + stringOfLen(50) + "].mp3", stringOfLen(50)},
		{"fifty one chars too long", "x [" + stringOfLen(51) + "].mp3", ""},
		{"invalid chars", "song [abc def].mp3", ""},
		{"underscore and dash", "song [a_b-c_d-e].webm", "a_b-c_d-e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile.ExtractBracketedID(tt.filename))
		})
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func localFile(name, id string) reconcile.LocalFile {
	return reconcile.LocalFile{
		Path:           "/music/" + name,
		Name:           name,
		NormalizedName: reconcile.NormalizeKey(trimExt(name)),
		BracketedID:    id,
	}
}

func trimExt(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

func TestBuildMatchedSetByBracketedID(t *testing.T) {
	refs := []reconcile.RemoteRef{
		{VideoID: "aaaaaaaaaaa", Title: "First"},
		{VideoID: "bbbbbbbbbbb", Title: "Second"},
	}
	files := []reconcile.LocalFile{
		localFile("First [aaaaaaaaaaa].m4a", "aaaaaaaaaaa"),
	}
	titles := reconcile.TitleIndex{}
	titles.Add("First", "aaaaaaaaaaa")
	titles.Add("Second", "bbbbbbbbbbb")

	matched := reconcile.BuildMatchedSet(refs, files, titles)
	assert.Contains(t, matched, "aaaaaaaaaaa")
	assert.NotContains(t, matched, "bbbbbbbbbbb")
}

func TestBuildMatchedSetTitleFallback(t *testing.T) {
	// A renamed file lost its bracketed ID but its normalized basename still
	// equals the normalized remote title.
	refs := []reconcile.RemoteRef{{VideoID: "aaaaaaaaaaa", Title: "My Song"}}
	files := []reconcile.LocalFile{localFile("my song.mp3", "")}
	titles := reconcile.TitleIndex{}
	titles.Add("My Song", "aaaaaaaaaaa")

	matched := reconcile.BuildMatchedSet(refs, files, titles)
	assert.Contains(t, matched, "aaaaaaaaaaa")
}

func TestBuildMatchedSetTitleFallbackRequiresIDAgreement(t *testing.T) {
	// The title index maps the basename to a different video: no match.
	refs := []reconcile.RemoteRef{{VideoID: "aaaaaaaaaaa", Title: "My Song"}}
	files := []reconcile.LocalFile{localFile("my song.mp3", "")}
	titles := reconcile.TitleIndex{}
	titles.Add("My Song", "zzzzzzzzzzz")

	matched := reconcile.BuildMatchedSet(refs, files, titles)
	assert.Empty(t, matched)
}

func TestBuildMatchedSetNoTitleCaptured(t *testing.T) {
	// A remote video absent from the title index can only match via
	// bracketed ID.
	refs := []reconcile.RemoteRef{{VideoID: "aaaaaaaaaaa"}}
	files := []reconcile.LocalFile{localFile("aaaaaaaaaaa.mp3", "")}

	matched := reconcile.BuildMatchedSet(refs, files, reconcile.TitleIndex{})
	assert.Empty(t, matched)
}

func TestBuildPlan(t *testing.T) {
	// Remote {A, B, C}, local bracketed IDs {A, D}: delete D, download B and C.
	refs := []reconcile.RemoteRef{
		{VideoID: "aaaaaaaaaaa", PlaylistURL: "https://example.com/pl", PlaylistIndex: 1},
		{VideoID: "bbbbbbbbbbb", PlaylistURL: "https://example.com/pl", PlaylistIndex: 2},
		{VideoID: "ccccccccccc", PlaylistURL: "https://example.com/pl", PlaylistIndex: 3},
	}
	files := []reconcile.LocalFile{
		localFile("a [aaaaaaaaaaa].m4a", "aaaaaaaaaaa"),
		localFile("d [ddddddddddd].m4a", "ddddddddddd"),
	}
	matched := reconcile.BuildMatchedSet(refs, files, reconcile.TitleIndex{})

	plan := reconcile.BuildPlan(refs, files, matched)

	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, "ddddddddddd", plan.ToDelete[0].BracketedID)

	require.Len(t, plan.ToDownload, 2)
	assert.Equal(t, "bbbbbbbbbbb", plan.ToDownload[0].VideoID)
	assert.Equal(t, "ccccccccccc", plan.ToDownload[1].VideoID)
}

func TestBuildPlanPreservesOrderAndIndices(t *testing.T) {
	refs := []reconcile.RemoteRef{
		{VideoID: "video000001", PlaylistURL: "u1", PlaylistIndex: 1},
		{VideoID: "video000002", PlaylistURL: "u1", PlaylistIndex: 2},
		{VideoID: "video000003", PlaylistURL: "u2", PlaylistIndex: 1},
	}
	plan := reconcile.BuildPlan(refs, nil, map[string]struct{}{})

	require.Len(t, plan.ToDownload, 3)
	for i, ref := range plan.ToDownload {
		assert.Equal(t, refs[i], ref)
	}
}

func TestBuildPlanCollapsesSharedVideos(t *testing.T) {
	// The same video tracked in two playlists is downloaded once, under its
	// first occurrence.
	refs := []reconcile.RemoteRef{
		{VideoID: "vid_dup_0001", PlaylistURL: "u1", PlaylistIndex: 1},
		{VideoID: "video000002", PlaylistURL: "u1", PlaylistIndex: 2},
		{VideoID: "vid_dup_0001", PlaylistURL: "u2", PlaylistIndex: 1},
	}
	plan := reconcile.BuildPlan(refs, nil, map[string]struct{}{})

	require.Len(t, plan.ToDownload, 2)
	assert.Equal(t, refs[0], plan.ToDownload[0])
	assert.Equal(t, refs[1], plan.ToDownload[1])
}

func TestBuildPlanNeverDeletesUnbracketedFiles(t *testing.T) {
	files := []reconcile.LocalFile{
		localFile("keepsake recording.wav", ""),
		localFile("gone [xxxxxxxxxxx].m4a", "xxxxxxxxxxx"),
	}
	plan := reconcile.BuildPlan(nil, files, map[string]struct{}{})

	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, "xxxxxxxxxxx", plan.ToDelete[0].BracketedID)
}

func TestBuildPlanEmptyInputs(t *testing.T) {
	plan := reconcile.BuildPlan(nil, nil, map[string]struct{}{})
	assert.True(t, plan.Empty())
}

func TestBuildPlanIdempotent(t *testing.T) {
	refs := []reconcile.RemoteRef{
		{VideoID: "aaaaaaaaaaa", Title: "One"},
		{VideoID: "bbbbbbbbbbb", Title: "Two"},
	}
	files := []reconcile.LocalFile{
		localFile("one [aaaaaaaaaaa].mp3", "aaaaaaaaaaa"),
		localFile("stale [ccccccccccc].mp3", "ccccccccccc"),
	}
	titles := reconcile.TitleIndex{}
	titles.Add("One", "aaaaaaaaaaa")
	titles.Add("Two", "bbbbbbbbbbb")

	matched := reconcile.BuildMatchedSet(refs, files, titles)
	first := reconcile.BuildPlan(refs, files, matched)
	second := reconcile.BuildPlan(refs, files, matched)

	assert.Equal(t, first, second)
}
