// Package logger wraps zap with a global sugared console logger and
// context helpers (ToContext/FromContext/WithName/WithKV).
//
// Services take a context and log through the logger stored in it, so a
// unit name attached once with WithKV shows up on every line emitted while
// that unit is being built.
package logger
