package handler

import (
	"context"
	"fmt"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
)

// PartRef locates the part a handler is working on.
type PartRef struct {
	UID  types.UID
	Path string
}

// Key identifies the part across passes. The Message-Id is included so a
// reused UID does not collide with an older message.
func (p PartRef) Key(messageID string) string {
	return fmt.Sprintf("%s|%d|%s", messageID, p.UID, p.Path)
}

type partKey struct{}

func WithPart(ctx context.Context, ref PartRef) context.Context {
	return context.WithValue(ctx, partKey{}, ref)
}

func PartFrom(ctx context.Context) (PartRef, bool) {
	ref, ok := ctx.Value(partKey{}).(PartRef)
	return ref, ok
}
