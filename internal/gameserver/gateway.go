// Package gameserver is the boundary to the hosting game server: session
// actions over its REST surface plus bookkeeping of sessions frozen while a
// login confirmation is pending.
package gameserver

import "context"

type Gateway interface {
	// IsOnline reports whether the player currently has a session.
	IsOnline(ctx context.Context, playerName string) (bool, error)
	// PrimaryAuthCompleted reports whether the player passed the primary
	// authentication step of the current session.
	PrimaryAuthCompleted(ctx context.Context, playerName string) (bool, error)
	SendMessage(ctx context.Context, playerName, message string) error
	Kick(ctx context.Context, playerName, reason string) error
	// Freeze suspends the player's session until Unfreeze or Kick.
	Freeze(ctx context.Context, playerName string) error
	Unfreeze(ctx context.Context, playerName string) error
	// CompleteAuthStep marks the confirmation step passed so the auth flow
	// can resume.
	CompleteAuthStep(ctx context.Context, playerName string) error
}
