// Package chat turns Zulip event queues into bot actions.
//
// Three listeners run side by side, each with its own queue and cursor:
//   - direct messages to the bot create blogs,
//   - mentions of the bot add posts,
//   - edits of mentioning messages update posts.
//
// A Source owns one queue registration and its cursor, the highest event id
// seen so far. Route decides what a received message means for a given
// subscription, and a Listener glues the two to a Handler and sends the
// Handler's reply back to where the message came from.
package chat
