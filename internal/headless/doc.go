// Package headless talks to the headless signing client over Redis pub/sub.
//
// The signing client holds the bot's keys. It publishes user messages on
// <prefix>:inbound, delivers whatever the bot publishes on <prefix>:outbound,
// and answers JSON-RPC requests from <prefix>:rpc on <prefix>:rpc:response.
// Messages travel as SOFA strings inside small JSON envelopes.
package headless
