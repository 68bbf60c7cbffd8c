// Package builtin assembles the sinks that are registered unconditionally on
// every (re)load, before any externally registered plugins.
package builtin

import (
	"notigate/internal/plugin"
	"notigate/internal/plugin/builtin/echo"
	"notigate/internal/plugin/builtin/email"
	"notigate/internal/plugin/builtin/file"
	"notigate/internal/plugin/builtin/httpsink"
	"notigate/internal/plugin/builtin/redispub"
	"notigate/internal/plugin/builtin/store"
	"notigate/internal/plugin/builtin/telegram"
)

// All returns fresh instances of every built-in sink.
func All() []plugin.Sink {
	return []plugin.Sink{
		echo.New(),
		file.New(),
		httpsink.New(),
		telegram.New(),
		email.New(),
		redispub.New(),
		store.New(),
	}
}
