// Package notifier delivers short operator messages (booking results, token
// expiry warnings) to a chat.
//
// # Channels
//
// A Channel posts one text: DingTalk and Lark group webhooks (optionally
// HMAC-signed) or a Telegram bot.
//
// # Pipeline
//
// Service queues messages and sends them from supervised workers behind a
// token-bucket limiter. Callers never block on delivery and never see its
// errors; failures are logged, published on the event bus and kept in a small
// history ring.
package notifier
