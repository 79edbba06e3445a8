// Package transcript reads the runtime's persisted session transcripts.
//
// Transcripts are JSON Lines files under <projects>/<encoded cwd>/<id>.jsonl,
// written by the runtime. This package only reads them, except for Delete.
package transcript

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/types"
)

// ErrNotFound is returned when no transcript exists for a session.
var ErrNotFound = errors.New("transcript not found")

// PageSize is the number of sessions per List page.
const PageSize = 50

const (
	ext         = ".jsonl"
	maxTitleLen = 100
	maxLineSize = 16 << 20
)

// Store locates and reads transcripts.
type Store struct {
	projectsDir string
	pageSize    int
	log         zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize overrides PageSize.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates a store rooted at projectsDir.
func New(projectsDir string, opts ...Option) *Store {
	s := &Store{
		projectsDir: projectsDir,
		pageSize:    PageSize,
		log:         logging.Component("transcript"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns where the runtime writes the transcript of sessionID for cwd.
func (s *Store) Path(sessionID, cwd string) string {
	return filepath.Join(s.projectsDir, config.EncodeProjectPath(cwd), sessionID+ext)
}

// Find locates the transcript of sessionID. The directory derived from cwd is
// tried first; a session started elsewhere is found by scanning every project.
func (s *Store) Find(ctx context.Context, sessionID, cwd string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, sessionID)
	}
	if cwd != "" {
		p := s.Path(sessionID, cwd)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	dirs, err := os.ReadDir(s.projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return "", fmt.Errorf("failed to read projects directory: %w", err)
	}
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !d.IsDir() {
			continue
		}
		p := filepath.Join(s.projectsDir, d.Name(), sessionID+ext)
		if _, err := os.Stat(p); err == nil {
			s.log.Debug().Str("session", sessionID).Str("path", p).Msg("transcript found outside cwd project")
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, sessionID)
}

// Entries returns the replayable entries of a transcript in file order:
// user and assistant messages of sessionID that are not side conversations.
// Malformed lines are skipped.
func (s *Store) Entries(ctx context.Context, path, sessionID string) ([]types.TranscriptEntry, error) {
	var out []types.TranscriptEntry
	err := s.scan(path, func(e types.TranscriptEntry) bool {
		if ctx.Err() != nil {
			return false
		}
		if e.Type != types.EntryUser && e.Type != types.EntryAssistant {
			return true
		}
		if e.IsSidechain || e.Message == nil {
			return true
		}
		if e.SessionID != "" && e.SessionID != sessionID {
			return true
		}
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, ctx.Err()
}

// List returns one page of sessions, newest first. An empty cwd lists all
// projects. A malformed cursor restarts at the first page.
func (s *Store) List(ctx context.Context, cwd, cursor string) (types.SessionPage, error) {
	type found struct {
		info    types.SessionInfo
		modTime time.Time
	}
	byID := make(map[string]found)

	err := filepath.WalkDir(s.projectsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.projectsDir && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			s.log.Warn().Err(err).Str("path", p).Msg("skipping unreadable transcript path")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != s.projectsDir && filepath.Dir(p) != s.projectsDir {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ext) || strings.HasPrefix(name, "agent-") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}

		info, ok := s.summarize(p)
		if !ok || (cwd != "" && info.Cwd != cwd) {
			return nil
		}
		info.SessionID = strings.TrimSuffix(name, ext)
		info.UpdatedAt = fi.ModTime()

		if prev, dup := byID[info.SessionID]; dup && !fi.ModTime().After(prev.modTime) {
			return nil
		}
		byID[info.SessionID] = found{info: info, modTime: fi.ModTime()}
		return nil
	})
	if err != nil {
		return types.SessionPage{}, err
	}

	all := make([]found, 0, len(byID))
	for _, f := range byID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].modTime.Equal(all[j].modTime) {
			return all[i].modTime.After(all[j].modTime)
		}
		return all[i].info.SessionID < all[j].info.SessionID
	})

	offset := decodeCursor(cursor)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + s.pageSize
	if end > len(all) {
		end = len(all)
	}

	page := types.SessionPage{Sessions: make([]types.SessionInfo, 0, end-offset)}
	for _, f := range all[offset:end] {
		page.Sessions = append(page.Sessions, f.info)
	}
	if end < len(all) {
		page.NextCursor = encodeCursor(end)
	}
	return page, nil
}

// Delete removes the transcript of sessionID. It reports false when there
// was nothing to delete.
func (s *Store) Delete(ctx context.Context, sessionID, cwd string) (bool, error) {
	p, err := s.Find(ctx, sessionID, cwd)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete transcript: %w", err)
	}
	s.log.Info().Str("session", sessionID).Str("path", p).Msg("transcript deleted")
	return true, nil
}

// summarize reads entries until both a cwd and a title are known.
func (s *Store) summarize(path string) (types.SessionInfo, bool) {
	var info types.SessionInfo
	var summary string
	err := s.scan(path, func(e types.TranscriptEntry) bool {
		if e.IsSidechain || e.IsMeta {
			return true
		}
		if info.Cwd == "" && e.Cwd != "" {
			info.Cwd = e.Cwd
		}
		if e.Type == types.EntrySummary && summary == "" {
			summary = e.Summary
		}
		if info.Title == "" && e.Type == types.EntryUser && e.Message != nil {
			info.Title = title(e.Message.Content)
		}
		return info.Cwd == "" || info.Title == ""
	})
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable transcript")
		return info, false
	}
	if info.Title == "" {
		info.Title = summary
	}
	return info, info.Cwd != ""
}

// scan calls fn for each well-formed entry until fn returns false.
func (s *Store) scan(path string, fn func(types.TranscriptEntry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var e types.TranscriptEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.log.Debug().Err(err).Str("path", path).Int("line", line).Msg("skipping malformed transcript line")
			continue
		}
		if !fn(e) {
			return nil
		}
	}
	return scanner.Err()
}

// title extracts a one-line title from user message content.
func title(content json.RawMessage) string {
	var text string
	var s string
	if json.Unmarshal(content, &s) == nil {
		text = s
	} else {
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if json.Unmarshal(content, &blocks) != nil {
			return ""
		}
		for _, b := range blocks {
			if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
				text = b.Text
				break
			}
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxTitleLen {
		text = string(r[:maxTitleLen-1]) + "…"
	}
	return text
}

func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(data))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
