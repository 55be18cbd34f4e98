package authkit

import "context"

type ctxKey string

const ctxKeyUser ctxKey = "authkit_user"

// WithUser stores the resolved user in the context.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

// UserFromContext extracts the resolved user from the context, or nil.
func UserFromContext(ctx context.Context) *User {
	v, _ := ctx.Value(ctxKeyUser).(*User)
	return v
}
