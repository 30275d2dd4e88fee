// Package transport describes the session capability a bot consumes from the
// voice-server client library: connecting with a Descriptor, the stream of
// membership and disconnect events, a live membership View, and the command
// round trips the bot issues.
//
// Nothing in this package speaks the wire protocol. Implementations adapt a
// real client library; transporttest provides a scriptable fake.
package transport
