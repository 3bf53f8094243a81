package syncop

import (
	"log/slog"

	"github.com/goliatone/go-dashboard-auth"
)

func defaultLogger() auth.Logger {
	return slog.Default()
}
