package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
)

func writeTranscript(t *testing.T, root, cwd, id string, mtime time.Time, lines ...string) string {
	t.Helper()
	dir := filepath.Join(root, config.EncodeProjectPath(cwd))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, id+".jsonl")
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func userLine(id, cwd, text string) string {
	return fmt.Sprintf(`{"type":"user","sessionId":%q,"cwd":%q,"message":{"role":"user","content":%q}}`, id, cwd, text)
}

func assistantLine(id, text string) string {
	return fmt.Sprintf(`{"type":"assistant","sessionId":%q,"message":{"role":"assistant","content":[{"type":"text","text":%q}]}}`, id, text)
}

func TestFind_FallsBackToScan(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	ctx := context.Background()
	p := writeTranscript(t, root, "/projects/a", "s1", time.Now(), userLine("s1", "/projects/a", "hi"))

	got, err := s.Find(ctx, "s1", "/projects/a")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got, err = s.Find(ctx, "s1", "/somewhere/else")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = s.Find(ctx, "missing", "/projects/a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Find(ctx, "../escape", "/projects/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntries_FiltersAndKeepsOrder(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	p := writeTranscript(t, root, "/p", "s1", time.Now(),
		`{"type":"summary","summary":"older work"}`,
		userLine("s1", "/p", "first"),
		`not json`,
		`{"type":"user","sessionId":"s1","isSidechain":true,"message":{"role":"user","content":"side"}}`,
		assistantLine("s1", "second"),
		userLine("other", "/p", "foreign"),
		`{"type":"system","sessionId":"s1"}`,
		assistantLine("s1", "third"),
	)

	entries, err := s.Entries(context.Background(), p, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "user", entries[0].Type)
	assert.Equal(t, "assistant", entries[1].Type)
	assert.JSONEq(t, `[{"type":"text","text":"third"}]`, string(entries[2].Message.Content))
}

func TestList_SortsDedupesAndFilters(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	now := time.Now()

	writeTranscript(t, root, "/a", "old", now.Add(-3*time.Hour), userLine("old", "/a", "old one"))
	writeTranscript(t, root, "/a", "new", now.Add(-1*time.Hour), userLine("new", "/a", "new one"))
	writeTranscript(t, root, "/b", "mid", now.Add(-2*time.Hour), userLine("mid", "/b", "middle\n  one"))
	// Same id under another project: only the newest copy is listed.
	writeTranscript(t, root, "/c", "old", now.Add(-4*time.Hour), userLine("old", "/c", "stale copy"))
	writeTranscript(t, root, "/a", "agent-123", now, userLine("x", "/a", "subagent"))
	writeTranscript(t, root, "/a", "nocwd", now, `{"type":"summary","summary":"x"}`)

	page, err := s.List(context.Background(), "", "")
	require.NoError(t, err)
	ids := make([]string, 0, len(page.Sessions))
	for _, info := range page.Sessions {
		ids = append(ids, info.SessionID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
	assert.Equal(t, "middle one", page.Sessions[1].Title)
	assert.Equal(t, "/a", page.Sessions[2].Cwd)
	assert.Empty(t, page.NextCursor)

	page, err = s.List(context.Background(), "/b", "")
	require.NoError(t, err)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, "mid", page.Sessions[0].SessionID)
}

func TestList_CursorRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root, WithPageSize(2))
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		writeTranscript(t, root, "/p", id, now.Add(-time.Duration(i)*time.Minute), userLine(id, "/p", id))
	}
	ctx := context.Background()

	var seen []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := s.List(ctx, "", cursor)
		require.NoError(t, err)
		for _, info := range page.Sessions {
			seen = append(seen, info.SessionID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"s0", "s1", "s2", "s3", "s4"}, seen)

	page, err := s.List(ctx, "", "%%%not-base64")
	require.NoError(t, err)
	require.Len(t, page.Sessions, 2)
	assert.Equal(t, "s0", page.Sessions[0].SessionID)
}

func TestList_MissingRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"))
	page, err := s.List(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, page.Sessions)
}

func TestDelete_Idempotent(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	ctx := context.Background()
	writeTranscript(t, root, "/p", "s1", time.Now(), userLine("s1", "/p", "hi"))

	deleted, err := s.Delete(ctx, "s1", "/p")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "s1", "/p")
	require.NoError(t, err)
	assert.False(t, deleted)

	page, err := s.List(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, page.Sessions)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "hello world", title([]byte(`"hello\n world"`)))
	assert.Equal(t, "from block", title([]byte(`[{"type":"image"},{"type":"text","text":"from block"}]`)))
	long := strings.Repeat("x", 200)
	assert.Len(t, []rune(title([]byte(`"`+long+`"`))), maxTitleLen)
}

func TestCursor(t *testing.T) {
	assert.Equal(t, 7, decodeCursor(encodeCursor(7)))
	assert.Equal(t, 0, decodeCursor(""))
	assert.Equal(t, 0, decodeCursor(encodeCursor(-3)))
}
