package adminapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/webserver"
)

const maxMessageLimit = 1000

func registerMessageRoutes() {
	webserver.ApiGET("/bot/messages", listBotMessages)
	webserver.ApiGET("/bot/messages/export", exportBotMessages)
}

// parseMessageFilter reads chat_id, limit and since. since takes any absolute
// date format dateparse recognizes.
func parseMessageFilter(c echo.Context) (store.MessageFilter, error) {
	filter := store.MessageFilter{
		ChatId: strings.TrimSpace(c.QueryParam("chat_id")),
		Limit:  cast.ToInt(c.QueryParam("limit")),
	}
	if filter.Limit <= 0 {
		filter.Limit = store.DefaultMessageLimit
	}
	if filter.Limit > maxMessageLimit {
		filter.Limit = maxMessageLimit
	}
	if s := strings.TrimSpace(c.QueryParam("since")); s != "" {
		since, err := dateparse.ParseLocal(s)
		if err != nil {
			return filter, err
		}
		filter.Since = since
	}
	return filter, nil
}

func listBotMessages(c echo.Context) error {
	filter, err := parseMessageFilter(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_SINCE", "Unable to parse since", err.Error())
	}
	messages, err := GetAppContext(c).Repository().ListMessages(c.Request().Context(), filter)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	return ok(c, messages)
}

// exportBotMessages writes the filtered audit log as CSV
func exportBotMessages(c echo.Context) error {
	filter, err := parseMessageFilter(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_SINCE", "Unable to parse since", err.Error())
	}
	messages, err := GetAppContext(c).Repository().ListMessages(c.Request().Context(), filter)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	data, err := gocsv.MarshalBytes(messages)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "EXPORT_FAILED", "Failed to export messages", err.Error())
	}
	filename := fmt.Sprintf("messages-%s.csv", time.Now().Format("20060102150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
}
