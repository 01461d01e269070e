// Package session implements the per-user conversational state of the bot.
//
// A Session is keyed by the user's address. It carries a free-form data
// mapping, a current state name, at most one open Thread, and the user's
// resolved identity profile. Every mutation is persisted through a
// store.SessionStore without blocking the caller; Wait lets callers opt into
// durability.
//
// Sessions also expose the payment operations a conversation needs: reading
// balances in any denomination or fiat currency, sending ether through the
// signing client, and requesting payment from the user.
package session
