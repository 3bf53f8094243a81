package auth

import "log/slog"

func defaultLogger() Logger {
	return slog.Default()
}

func normalizeLogger(logger Logger) Logger {
	if logger == nil {
		return defaultLogger()
	}
	return logger
}
