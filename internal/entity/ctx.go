package entity

import (
	"context"
)

type CtxKey int

const (
	CtxKeyCaller CtxKey = iota
)

// CtxWithCaller stores the authenticated internal caller (api key owner or JWT subject).
func CtxWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, CtxKeyCaller, caller)
}

// CallerFromCtx returns the caller from context or ErrUnauthenticated if it is not set.
func CallerFromCtx(ctx context.Context) (string, error) {
	caller, ok := ctx.Value(CtxKeyCaller).(string)
	if !ok || caller == "" {
		return "", ErrUnauthenticated
	}

	return caller, nil
}
