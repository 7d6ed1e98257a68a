package tools

import (
	"context"

	"github.com/yo-run/yo/internal/session"
)

type sessionCtxKey struct{}

// ContextWithSession attaches the active session to ctx so tools that need
// session-scoped state (todo lists, plan mode, ask-user yields) can reach it
// without growing the Tool.Execute signature for every other tool.
func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	if sess == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

// SessionFromContext returns the session stashed by ContextWithSession, or
// nil if the call was not routed through a session-aware turn.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*session.Session)
	return sess
}

func sessionKey(ctx context.Context) string {
	if sess := SessionFromContext(ctx); sess != nil {
		return sess.Key
	}
	return ""
}
