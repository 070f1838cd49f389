// Package logx is jobbot's structured logging layer on top of zerolog.
//
// Console output is human readable with a short caller, file output is JSON,
// and warnings can optionally be mirrored to a Telegram chat (rate limited).
package logx
