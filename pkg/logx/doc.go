// Package logx configures remindbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps
// console output readable (short timestamp + short caller) and file
// output JSON-structured. The root logger is swapped atomically so a
// config reload can change the level or sinks without restarting callers.
package logx
