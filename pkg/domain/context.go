package domain

import "context"

type keyCtxKey struct{}

// WithConversationKey attaches the conversation key to ctx. Tools use it to scope
// owner-specific operations such as memory search.
func WithConversationKey(ctx context.Context, key ConversationKey) context.Context {
	return context.WithValue(ctx, keyCtxKey{}, key)
}

// ConversationKeyFrom extracts the conversation key attached by WithConversationKey.
func ConversationKeyFrom(ctx context.Context) (ConversationKey, bool) {
	key, ok := ctx.Value(keyCtxKey{}).(ConversationKey)
	return key, ok
}
