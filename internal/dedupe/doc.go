// Package dedupe remembers recently seen inbound event ids so redelivered
// events are handled once.
package dedupe
