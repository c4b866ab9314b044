// Package log provides structured, leveled logging over a log/slog bridge.
//
// Loggers carry immutable field context and write through a configurable
// formatter (JSON or text) to one or more outputs. Construct loggers
// explicitly and pass them into components; there is no package-level default.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.DebugLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	)
//	l = l.With(log.Component("bus"), log.Str("subject", "documents.created"))
//	l.Info("subscribed", log.Str("group", "render"))
//
// Use ApplyConfig to build a logger from a declarative Config (level and
// format), and RedirectStdLog to route standard library logging (Pebble and
// friends) through a Logger.
package log
