package auth

import "context"

func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

// SubjectFromContext returns the validated token subject stashed by
// Middleware, or "" if the request never passed through it.
func SubjectFromContext(ctx context.Context) string {
	v, _ := ctx.Value(subjectContextKey).(string)
	return v
}
