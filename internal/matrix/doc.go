// Package matrix connects the bot to Matrix rooms.
//
// Text messages from allowed rooms become bot events addressed by the
// sender's Matrix user id. Replies go back to the room the user last wrote
// from, rendered from Markdown to HTML.
package matrix
