// Package session keeps one bot connected to its voice server.
//
// A Manager resolves the bot's identity, connects through a transport.Conn,
// classifies every disconnect into a reconnect.Category, and either schedules
// the next attempt or gives up and says so. It also owns the caches of remote
// client metadata, tracks whether the bot is alone in its channel, and sets
// up the bot's own server permissions.
//
// State transitions of a Manager run on its own run loop, one per bot, so a
// process can host many bots without them sharing mutable state.
// Notification handlers run on that loop too: the state machine does not
// advance until they return, and they must not call Connect's blocking
// counterparts or Close.
package session
