package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wabot/internal/webserver"
)

func registerConfigRoutes() {
	webserver.ApiGET("/bot/config", getBotConfig)
	webserver.ApiPUT("/bot/config", updateBotConfig)
}

func getBotConfig(c echo.Context) error {
	return ok(c, GetAppContext(c).ConfigMgr().All())
}

// updateBotConfig applies a map of key -> value. Keys are validated one by
// one; the first invalid key stops the update.
func updateBotConfig(c echo.Context) error {
	var payload map[string]string
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse config parameters", err.Error())
	}
	if len(payload) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "No config values given", nil)
	}
	mgr := GetAppContext(c).ConfigMgr()
	for key, value := range payload {
		if err := mgr.Set(c.Request().Context(), key, value); err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_CONFIG", "Invalid config value", map[string]string{key: err.Error()})
		}
	}
	return ok(c, mgr.All())
}
