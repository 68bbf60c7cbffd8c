// Package logx configures notigate's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Per-plugin logger services with independent levels, rebuilt on reload
package logx
