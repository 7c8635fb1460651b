package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	args   []string
	out    []byte
	err    error
	onRun  func(args []string)
	called int
}

func (f *fakeExecutor) Run(_ context.Context, _ string, args []string) ([]byte, error) {
	f.called++
	f.args = append([]string(nil), args...)
	if f.onRun != nil {
		f.onRun(args)
	}
	return f.out, f.err
}

func newTestClient(t *testing.T, fake *fakeExecutor, opts ...Option) *Client {
	t.Helper()
	c, err := New("yt-dlp", append([]Option{WithExecutor(fake)}, opts...)...)
	require.NoError(t, err)
	return c
}

const playlistJSON = `{
  "_type": "playlist",
  "entries": [
    {"id": "a1", "title": "Lofi Beats 1", "url": "https://www.youtube.com/watch?v=a1", "uploader": "Chill", "duration": 120},
    {"id": "a2", "title": "Lofi Beats 2", "url": "https://www.youtube.com/watch?v=a2", "channel": "Study"},
    {"id": "", "title": "broken"},
    {"id": "a3", "title": "Lofi Beats 3"}
  ]
}`

func TestIsURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc", true},
		{"http://example.com/x", true},
		{"  https://example.com  ", true},
		{"lofi beats", false},
		{"ftp://example.com/file", false},
		{"https://", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsURL(tt.in), tt.in)
	}
}

func TestSearchQueryArgsAndParsing(t *testing.T) {
	fake := &fakeExecutor{out: []byte(playlistJSON)}
	c := newTestClient(t, fake)

	items, err := c.Search(context.Background(), "lofi beats", 5)
	require.NoError(t, err)

	assert.Contains(t, fake.args, "ytsearch5:lofi beats")
	assert.Contains(t, fake.args, "--flat-playlist")

	require.Len(t, items, 3, "entries without an id are skipped")
	assert.Equal(t, "a1", items[0].SourceID)
	assert.Equal(t, "Chill", items[0].Uploader)
	assert.Equal(t, float64(120), items[0].Duration)
	assert.Equal(t, "Study", items[1].Uploader, "channel is used when uploader is missing")
	assert.Equal(t, "https://www.youtube.com/watch?v=a3", items[2].SourceURL)
}

func TestSearchTruncatesToLimit(t *testing.T) {
	fake := &fakeExecutor{out: []byte(playlistJSON)}
	c := newTestClient(t, fake)

	items, err := c.Search(context.Background(), "lofi", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a1", items[0].SourceID)
	assert.Equal(t, "a2", items[1].SourceID)
}

func TestSearchDirectLink(t *testing.T) {
	fake := &fakeExecutor{out: []byte(`{"id": "xyz", "title": "Song", "webpage_url": "https://www.youtube.com/watch?v=xyz", "uploader": "Band"}`)}
	c := newTestClient(t, fake)

	items, err := c.Search(context.Background(), "https://youtu.be/xyz", 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "xyz", items[0].SourceID)
	assert.Equal(t, "https://youtu.be/xyz", fake.args[len(fake.args)-1])
	assert.NotContains(t, fake.args, "--flat-playlist")
}

func TestSearchEmptyAndMalformed(t *testing.T) {
	fake := &fakeExecutor{out: []byte(`{"_type": "playlist", "entries": []}`)}
	c := newTestClient(t, fake)
	items, err := c.Search(context.Background(), "asdkjasdkj9182", 5)
	require.NoError(t, err)
	assert.Empty(t, items)

	fake.out = []byte("not json")
	_, err = c.Search(context.Background(), "x", 5)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestSearchExecutorError(t *testing.T) {
	fake := &fakeExecutor{err: errors.New("network unreachable")}
	c := newTestClient(t, fake)

	_, err := c.Search(context.Background(), "x", 5)
	assert.ErrorIs(t, err, ErrExtractor)
}

func TestSearchCanceledContext(t *testing.T) {
	fake := &fakeExecutor{err: errors.New("signal: killed")}
	c := newTestClient(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Search(ctx, "x", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchAndTranscodeUsesPrintedPath(t *testing.T) {
	dir := t.TempDir()
	produced := filepath.Join(dir, "abc.mp3")
	fake := &fakeExecutor{
		onRun: func([]string) { require.NoError(t, os.WriteFile(produced, []byte("audio"), 0o600)) },
		out:   []byte("[download] something\n" + produced + "\n"),
	}
	c := newTestClient(t, fake, WithTranscoder("/usr/bin/ffmpeg"))

	path, err := c.FetchAndTranscode(context.Background(), "https://example.com/v", dir, 50*1024*1024)
	require.NoError(t, err)
	assert.Equal(t, produced, path)

	joined := strings.Join(fake.args, " ")
	assert.Contains(t, joined, "--audio-format mp3")
	assert.Contains(t, joined, "--audio-quality 192K")
	assert.Contains(t, joined, "--max-filesize 52428800")
	assert.Contains(t, joined, "--ffmpeg-location /usr/bin/ffmpeg")
	assert.Equal(t, "https://example.com/v", fake.args[len(fake.args)-1])
}

func TestFetchAndTranscodeFallsBackToGlob(t *testing.T) {
	dir := t.TempDir()
	produced := filepath.Join(dir, "abc.mp3")
	fake := &fakeExecutor{onRun: func([]string) { require.NoError(t, os.WriteFile(produced, []byte("audio"), 0o600)) }}
	c := newTestClient(t, fake)

	path, err := c.FetchAndTranscode(context.Background(), "https://example.com/v", dir, 0)
	require.NoError(t, err)
	assert.Equal(t, produced, path)
	assert.NotContains(t, fake.args, "--max-filesize")
}

func TestFetchAndTranscodeErrors(t *testing.T) {
	dir := t.TempDir()

	c := newTestClient(t, &fakeExecutor{out: []byte("[download] File is larger than max-filesize (60000000 bytes > 52428800 bytes). Aborting.\n")})
	_, err := c.FetchAndTranscode(context.Background(), "https://example.com/v", dir, 50*1024*1024)
	assert.ErrorIs(t, err, ErrTooLarge)

	c = newTestClient(t, &fakeExecutor{})
	_, err = c.FetchAndTranscode(context.Background(), "https://example.com/v", dir, 0)
	assert.ErrorIs(t, err, ErrNoArtifact)
	assert.NotErrorIs(t, err, ErrTooLarge)

	// A quiet size skip leaves nothing behind and prints nothing.
	_, err = c.FetchAndTranscode(context.Background(), "https://example.com/v", dir, 50*1024*1024)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, ErrNoArtifact)

	c = newTestClient(t, &fakeExecutor{err: errors.New("HTTP Error 403")})
	_, err = c.FetchAndTranscode(context.Background(), "https://example.com/v", dir, 0)
	assert.ErrorIs(t, err, ErrExtractor)

	_, err = c.FetchAndTranscode(context.Background(), "", dir, 0)
	assert.ErrorIs(t, err, ErrExtractor)
}

func TestWithAudioOverridesEncoding(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeExecutor{onRun: func([]string) { require.NoError(t, os.WriteFile(filepath.Join(dir, "x.opus"), nil, 0o600)) }}
	c := newTestClient(t, fake, WithAudio("opus", "128"))
	assert.Equal(t, "opus", c.AudioFormat())

	path, err := c.FetchAndTranscode(context.Background(), "https://example.com/v", dir, 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.opus"), path)
	assert.Contains(t, strings.Join(fake.args, " "), "--audio-quality 128K")
}

func TestTailKeepsRuneBoundary(t *testing.T) {
	assert.Equal(t, "short", tail("  short\n", 10))

	got := tail("ошибка загрузки", 5)
	assert.True(t, utf8.ValidString(got), "tail produced invalid UTF-8: %q", got)
	assert.Equal(t, "…ки", got)

	assert.Equal(t, "…abc", tail("xyzabc", 3))
}

func TestNewRequiresBinary(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
