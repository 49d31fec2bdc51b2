package auth

import "context"

// SetPlayerForTest injects a player and slot into the context for testing purposes.
func SetPlayerForTest(ctx context.Context, playerID, slotID string) context.Context {
	return WithClaims(ctx, &Claims{PlayerID: playerID, SlotID: slotID})
}
