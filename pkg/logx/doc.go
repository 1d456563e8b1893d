// Package logx wraps zerolog behind a small structured-logging API.
//
// Components hold a logx.Logger; the Service owns the sinks (console,
// file) and can swap levels/outputs at runtime via Apply.
package logx
