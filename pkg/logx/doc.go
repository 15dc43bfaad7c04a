// Package logx configures subwaybot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable, file output JSON-structured, and feeds an in-process Stream of
// (message, level, category) lines for status pages and other front-ends.
package logx
