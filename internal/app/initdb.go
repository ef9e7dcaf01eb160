package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/pkg/common"
)

// checkDefaultCommands seeds the sample custom commands, inactive, so they
// can be enabled from the admin api.
func (a *Application) checkDefaultCommands() {
	ctx := context.Background()
	defaultCommands := []domain.BotCommand{
		{
			Command:     "echo",
			Description: "Repeats the given text",
			HandlerRef:  "echo",
		},
		{
			Command:     "rules",
			Description: "Be kind. No spam. No illegal content.",
			HandlerRef:  "text",
		},
	}

	existing, err := a.repo.ListCommands(ctx, false)
	if err != nil {
		zap.L().Error("failed to query commands", zap.String("namespace", "app"), zap.Error(err))
		return
	}
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.Command] = true
	}

	for _, cmd := range defaultCommands {
		if seen[cmd.Command] {
			continue
		}
		cmd.ID = common.UUIDint64()
		cmd.CreatedAt = time.Now()
		cmd.UpdatedAt = time.Now()
		if err := a.repo.CreateCommand(ctx, &cmd); err != nil {
			zap.L().Error("failed to create default command",
				zap.String("namespace", "app"),
				zap.String("command", cmd.Command),
				zap.Error(err))
		} else {
			zap.L().Info("initialized default command",
				zap.String("namespace", "app"),
				zap.String("command", cmd.Command))
		}
	}
}

// ResetSession removes the stored session of phoneNumber. Connected sessions are kept.
func (a *Application) ResetSession(ctx context.Context, phoneNumber string) (bool, error) {
	sess, err := a.repo.GetSession(ctx, phoneNumber)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if sess.IsConnected {
		return false, nil
	}
	return a.repo.DeleteSession(ctx, phoneNumber)
}
