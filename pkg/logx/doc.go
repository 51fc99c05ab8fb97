// Package logx is tinysched's structured logging: a small value-type Logger
// over zerolog.
//
// Components take a Logger and never nil-check it; the zero value discards.
// A Service owns the sinks (stdout as console or JSON, optional JSON file)
// and swaps them on config reload. Diag lines bypass the level threshold and
// carry level=trace; they back the scheduler's opt-in trace flags.
package logx
