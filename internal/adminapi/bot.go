package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/bot"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/transport"
	"github.com/talkincode/wabot/internal/webserver"
	"github.com/talkincode/wabot/pkg/metrics"
)

type connectPayload struct {
	PhoneNumber    string `json:"phoneNumber" validate:"required,max=20"`
	UsePairingCode bool   `json:"usePairingCode"`
}

type sendPayload struct {
	ChatID string `json:"chat_id" validate:"required,max=128"`
	Text   string `json:"text" validate:"required,max=4096"`
}

type botStatus struct {
	Connected     bool      `json:"connected"`
	PhoneNumber   string    `json:"phoneNumber"`
	PairingCode   string    `json:"pairingCode"`
	LastActivity  time.Time `json:"lastActivity"`
	MessagesCount int64     `json:"messagesCount"`
	HasQR         bool      `json:"hasQr"`
}

type qrSource interface {
	QRCode() string
}

func registerBotRoutes() {
	webserver.ApiGET("/bot/status", getBotStatus)
	webserver.ApiPOST("/bot/connect", postBotConnect)
	webserver.ApiPOST("/bot/disconnect", postBotDisconnect)
	webserver.ApiGET("/bot/qr", getBotQR)
	webserver.ApiPOST("/bot/send", postBotSend)
	webserver.ApiGET("/bot/sessions", listBotSessions)
	webserver.ApiDELETE("/bot/sessions/:phone", deleteBotSession)
	webserver.ApiGET("/bot/stats", getBotStats)
	webserver.ApiGET("/bot/metrics/:name", getBotMetrics)
}

// getBotStatus reports the connection state from the manager and the stored session
func getBotStatus(c echo.Context) error {
	appCtx := GetAppContext(c)
	mgr := appCtx.BotManager()

	status := botStatus{Connected: mgr.IsConnected()}
	if sess := mgr.CurrentSession(); sess != nil {
		status.PhoneNumber = sess.PhoneNumber
		status.LastActivity = sess.LastActivity
		// Re-read the row: the event synchronizer keeps it current.
		if fresh, err := appCtx.Repository().GetSession(c.Request().Context(), sess.PhoneNumber); err == nil {
			sess = fresh
			status.LastActivity = fresh.LastActivity
		}
		if sess.PairingCode != nil {
			status.PairingCode = *sess.PairingCode
		}
	}
	if qs, ok := mgr.Client().(qrSource); ok {
		status.HasQR = qs.QRCode() != ""
	}

	stats, err := appCtx.Repository().MessageStats(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to get bot status", err.Error())
	}
	status.MessagesCount = stats.TotalMessages
	return ok(c, status)
}

// postBotConnect starts a connection for the given phone number
func postBotConnect(c echo.Context) error {
	var payload connectPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	payload.PhoneNumber = strings.TrimSpace(payload.PhoneNumber)
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	result, err := GetAppContext(c).BotManager().Connect(c.Request().Context(), payload.PhoneNumber, payload.UsePairingCode)
	switch {
	case errors.Is(err, bot.ErrInvalidPhoneNumber):
		return fail(c, http.StatusBadRequest, "INVALID_PHONE_NUMBER", "Invalid phone number", nil)
	case errors.Is(err, bot.ErrAlreadyConnected):
		return fail(c, http.StatusConflict, "ALREADY_CONNECTED", "Bot is already connected", nil)
	case errors.Is(err, bot.ErrTransportFailure):
		return fail(c, http.StatusBadGateway, "TRANSPORT_FAILURE", "Failed to connect bot", err.Error())
	case err != nil:
		return fail(c, http.StatusInternalServerError, "CONNECT_FAILED", "Failed to connect bot", err.Error())
	}

	zap.L().Info("adminapi: bot connect started",
		zap.String("namespace", "adminapi"),
		zap.String("phone_number", payload.PhoneNumber),
		zap.Bool("pairing", payload.UsePairingCode))
	return ok(c, map[string]interface{}{
		"pairingCode": result.PairingCode,
		"session":     result.Session,
	})
}

func postBotDisconnect(c echo.Context) error {
	if err := GetAppContext(c).BotManager().Disconnect(c.Request().Context()); err != nil {
		return fail(c, http.StatusBadGateway, "DISCONNECT_FAILED", "Failed to disconnect bot", err.Error())
	}
	return ok(c, map[string]interface{}{"message": "Bot disconnected successfully"})
}

// getBotQR returns the latest login QR string. The frontend renders the image.
func getBotQR(c echo.Context) error {
	var code string
	if qs, ok := GetAppContext(c).BotManager().Client().(qrSource); ok {
		code = qs.QRCode()
	}
	return ok(c, map[string]interface{}{"code": code, "has_qr": code != ""})
}

// postBotSend sends a plain text through the connected client
func postBotSend(c echo.Context) error {
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	client := GetAppContext(c).BotManager().Client()
	if client == nil {
		return fail(c, http.StatusServiceUnavailable, "NOT_CONNECTED", "Bot is not connected", nil)
	}
	res, err := client.SendMessage(c.Request().Context(), payload.ChatID, transport.OutgoingText{Text: payload.Text})
	if err != nil {
		return fail(c, http.StatusBadGateway, "SEND_FAILED", "Failed to send message", err.Error())
	}
	return ok(c, map[string]interface{}{"id": res.ID, "timestamp": res.Timestamp})
}

func listBotSessions(c echo.Context) error {
	sessions, err := GetAppContext(c).Repository().ListSessions(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query sessions", err.Error())
	}
	return ok(c, sessions)
}

// deleteBotSession removes a disconnected session row
func deleteBotSession(c echo.Context) error {
	phone := c.Param("phone")
	if !bot.ValidPhoneNumber(phone) {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE_NUMBER", "Invalid phone number", nil)
	}
	deleted, err := GetAppContext(c).ResetSession(c.Request().Context(), phone)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete session", err.Error())
	}
	if !deleted {
		return fail(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No disconnected session for this number", nil)
	}
	return ok(c, map[string]interface{}{"phone_number": phone})
}

func getBotStats(c echo.Context) error {
	appCtx := GetAppContext(c)
	ctx := c.Request().Context()
	stats, err := appCtx.Repository().MessageStats(ctx)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query statistics", err.Error())
	}
	sessions, err := appCtx.Repository().ListSessions(ctx)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query statistics", err.Error())
	}
	var active int
	for _, s := range sessions {
		if s.IsConnected {
			active++
		}
	}
	return ok(c, struct {
		*domain.MessageStats
		TotalSessions    int   `json:"total_sessions"`
		ActiveSessions   int   `json:"active_sessions"`
		InactiveSessions int   `json:"inactive_sessions"`
		UptimeSeconds    int64 `json:"uptime_seconds"`
		Commands         int   `json:"commands"`
	}{
		MessageStats:     stats,
		TotalSessions:    len(sessions),
		ActiveSessions:   active,
		InactiveSessions: len(sessions) - active,
		UptimeSeconds:    int64(appCtx.Uptime().Seconds()),
		Commands:         len(appCtx.Dispatcher().BuiltinNames()) + appCtx.Registry().Len(),
	})
}

// getBotMetrics returns gauge samples of the last `minutes` (default 60)
func getBotMetrics(c echo.Context) error {
	name := c.Param("name")
	minutes := cast.ToInt(c.QueryParam("minutes"))
	if minutes <= 0 {
		minutes = 60
	}
	end := time.Now()
	points, err := metrics.Series(name, end.Add(-time.Duration(minutes)*time.Minute), end.Add(time.Second))
	if errors.Is(err, metrics.ErrNotInitialized) {
		return fail(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "Metrics storage is not initialized", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "METRICS_ERROR", "Failed to query metrics", err.Error())
	}
	return ok(c, map[string]interface{}{"name": name, "points": points})
}
