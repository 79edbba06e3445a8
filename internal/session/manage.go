package session

import (
	"context"

	"github.com/zed-industries/claude-code-acp-sub000/internal/event"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/types"
)

// ListSessions pages through persisted sessions, newest first. An empty
// cwd lists every project.
func (r *Registry) ListSessions(ctx context.Context, cwd, cursor string) (types.SessionPage, error) {
	return r.cfg.Transcripts.List(ctx, cwd, cursor)
}

// DeleteSession ends a live session with this id and removes its
// transcript. It reports false when there was no transcript to remove.
func (r *Registry) DeleteSession(ctx context.Context, id, cwd string) (bool, error) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s != nil {
		s.close(ctx)
	}

	deleted, err := r.cfg.Transcripts.Delete(ctx, id, cwd)
	if err != nil {
		return false, err
	}
	r.publishSync(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{SessionID: id, Deleted: deleted}})
	r.log.Info().Str("session", id).Bool("deleted", deleted).Msg("session deleted")
	return deleted, nil
}
