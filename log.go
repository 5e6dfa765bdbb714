package aicode

import (
	"context"
	"log/slog"
)

// nopLogger discards all output. Components accept an optional *slog.Logger
// via a With*Logger option and fall back to this so logging calls never need
// a nil check.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
