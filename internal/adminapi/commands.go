package adminapi

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/webserver"
	"github.com/talkincode/wabot/pkg/common"
)

type commandPayload struct {
	Command     string `json:"command" validate:"required,min=1,max=64"`
	Description string `json:"description" validate:"omitempty,max=1000"`
	HandlerRef  string `json:"handler_ref" validate:"required,max=64"`
	IsOwnerOnly bool   `json:"is_owner_only"`
	IsPremium   bool   `json:"is_premium"`
	IsActive    bool   `json:"is_active"`
}

type commandUpdatePayload struct {
	Description *string `json:"description" validate:"omitempty,max=1000"`
	HandlerRef  *string `json:"handler_ref" validate:"omitempty,min=1,max=64"`
	IsOwnerOnly *bool   `json:"is_owner_only"`
	IsPremium   *bool   `json:"is_premium"`
	IsActive    *bool   `json:"is_active"`
}

func registerCommandRoutes() {
	webserver.ApiGET("/bot/commands", listCommands)
	webserver.ApiGET("/bot/commands/:id", getCommand)
	webserver.ApiPOST("/bot/commands", createCommand)
	webserver.ApiPUT("/bot/commands/:id", updateCommand)
	webserver.ApiDELETE("/bot/commands/:id", deleteCommand)
}

func listCommands(c echo.Context) error {
	activeOnly := c.QueryParam("active") == "true"
	cmds, err := GetAppContext(c).Repository().ListCommands(c.Request().Context(), activeOnly)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query commands", err.Error())
	}
	return ok(c, cmds)
}

func getCommand(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid command ID", nil)
	}
	cmd, err := GetAppContext(c).Repository().GetCommand(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, http.StatusNotFound, "COMMAND_NOT_FOUND", "Command not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query command", err.Error())
	}
	return ok(c, cmd)
}

func createCommand(c echo.Context) error {
	var payload commandPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse command parameters", nil)
	}
	payload.Command = strings.ToLower(strings.TrimSpace(payload.Command))
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if strings.ContainsAny(payload.Command, " \t\r\n") {
		return fail(c, http.StatusBadRequest, "INVALID_COMMAND", "Command name must be a single word", nil)
	}

	appCtx := GetAppContext(c)
	ctx := c.Request().Context()
	if slices.Contains(appCtx.Dispatcher().BuiltinNames(), payload.Command) {
		return fail(c, http.StatusConflict, "COMMAND_RESERVED", "Command name is reserved by a built-in command", nil)
	}
	if !appCtx.Registry().HasRef(payload.HandlerRef) {
		return fail(c, http.StatusBadRequest, "UNKNOWN_HANDLER", "Unknown handler reference", payload.HandlerRef)
	}

	existing, err := appCtx.Repository().ListCommands(ctx, false)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query commands", err.Error())
	}
	for _, e := range existing {
		if e.Command == payload.Command {
			return fail(c, http.StatusConflict, "COMMAND_EXISTS", "Command already exists", nil)
		}
	}

	cmd := domain.BotCommand{
		ID:          common.UUIDint64(),
		Command:     payload.Command,
		Description: payload.Description,
		HandlerRef:  payload.HandlerRef,
		IsOwnerOnly: payload.IsOwnerOnly,
		IsPremium:   payload.IsPremium,
		IsActive:    payload.IsActive,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := appCtx.Repository().CreateCommand(ctx, &cmd); err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create command", err.Error())
	}
	reloadCommands(c)
	return ok(c, cmd)
}

func updateCommand(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid command ID", nil)
	}

	var payload commandUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse command parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	appCtx := GetAppContext(c)
	ctx := c.Request().Context()
	cmd, err := appCtx.Repository().GetCommand(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, http.StatusNotFound, "COMMAND_NOT_FOUND", "Command not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query command", err.Error())
	}

	if payload.HandlerRef != nil {
		if !appCtx.Registry().HasRef(*payload.HandlerRef) {
			return fail(c, http.StatusBadRequest, "UNKNOWN_HANDLER", "Unknown handler reference", *payload.HandlerRef)
		}
		cmd.HandlerRef = *payload.HandlerRef
	}
	if payload.Description != nil {
		cmd.Description = *payload.Description
	}
	if payload.IsOwnerOnly != nil {
		cmd.IsOwnerOnly = *payload.IsOwnerOnly
	}
	if payload.IsPremium != nil {
		cmd.IsPremium = *payload.IsPremium
	}
	if payload.IsActive != nil {
		cmd.IsActive = *payload.IsActive
	}
	cmd.UpdatedAt = time.Now()

	if err := appCtx.Repository().UpdateCommand(ctx, cmd); err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update command", err.Error())
	}
	reloadCommands(c)
	return ok(c, cmd)
}

func deleteCommand(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid command ID", nil)
	}
	ctx := c.Request().Context()
	deleted, err := GetAppContext(c).Repository().DeleteCommand(ctx, id)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete command", err.Error())
	}
	if !deleted {
		return fail(c, http.StatusNotFound, "COMMAND_NOT_FOUND", "Command not found", nil)
	}
	reloadCommands(c)
	return ok(c, map[string]interface{}{"id": id})
}

// reloadCommands refreshes the live registry; a failure keeps the previous table.
func reloadCommands(c echo.Context) {
	if err := GetAppContext(c).ReloadCommands(c.Request().Context()); err != nil {
		zap.L().Warn("adminapi: reload commands failed", zap.String("namespace", "adminapi"), zap.Error(err))
	}
}
