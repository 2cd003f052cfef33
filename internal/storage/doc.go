// Package storage provides the persistence layer used by the bot.
//
// It keeps two durable record sets:
//   - Recipients: users the bot has seen at least once, with their
//     first-contact timestamp. Append-only, unique by user id.
//   - Invite links: one link per (chat, mode) pair, immutable after
//     creation.
//
// Two drivers are available behind Open(): sqlite (default) and a plain
// JSON Lines file journal for deployments without a database file.
package storage
