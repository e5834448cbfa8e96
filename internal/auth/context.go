package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxPrincipalID ctxKey = iota
	ctxPrincipalType
)

func WithIdentity(ctx context.Context, principalID string, ptype PrincipalType) context.Context {
	ctx = context.WithValue(ctx, ctxPrincipalID, principalID)
	ctx = context.WithValue(ctx, ctxPrincipalType, ptype)
	return ctx
}

func PrincipalID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxPrincipalID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("principal_id not in context")
}

func PrincipalTypeFrom(ctx context.Context) (PrincipalType, error) {
	v := ctx.Value(ctxPrincipalType)
	if p, ok := v.(PrincipalType); ok && p.Valid() {
		return p, nil
	}
	return "", errors.New("principal_type not in context")
}
