package wnet

import (
	"context"
	"log/slog"
)

const levelTrace slog.Level = slog.LevelDebug - 1

func (c *Chip) logerr(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelError, msg, attrs...)
}

func (c *Chip) info(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelInfo, msg, attrs...)
}

func (c *Chip) debug(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug, msg, attrs...)
}

func (c *Chip) trace(msg string, attrs ...slog.Attr) {
	c.logattrs(levelTrace, msg, attrs...)
}

func (c *Chip) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.logger != nil {
		c.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
