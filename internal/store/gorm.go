package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/pkg/common"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository is the GORM implementation of Repository
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// NewGormRepository creates a new GORM-based repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *GormRepository) CreateSession(ctx context.Context, phoneNumber, sessionId string) (*domain.BotSession, error) {
	now := time.Now()
	sess := &domain.BotSession{
		ID:           common.UUIDint64(),
		PhoneNumber:  phoneNumber,
		SessionId:    sessionId,
		IsConnected:  false,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, errors.Wrapf(err, "create session %s", phoneNumber)
	}
	return sess, nil
}

func (r *GormRepository) GetSession(ctx context.Context, phoneNumber string) (*domain.BotSession, error) {
	var sess domain.BotSession
	err := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&sess).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (r *GormRepository) UpdateSession(ctx context.Context, phoneNumber string, update SessionUpdate) (*domain.BotSession, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if update.SessionId != nil {
		updates["session_id"] = *update.SessionId
	}
	if update.IsConnected != nil {
		updates["is_connected"] = *update.IsConnected
	}
	if update.ClearPairing {
		updates["pairing_code"] = nil
	} else if update.PairingCode != nil {
		updates["pairing_code"] = *update.PairingCode
	}
	if update.LastActivity != nil {
		updates["last_activity"] = *update.LastActivity
	}

	res := r.db.WithContext(ctx).Model(&domain.BotSession{}).
		Where("phone_number = ?", phoneNumber).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "update session %s", phoneNumber)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetSession(ctx, phoneNumber)
}

func (r *GormRepository) DeleteSession(ctx context.Context, phoneNumber string) (bool, error) {
	res := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).Delete(&domain.BotSession{})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "delete session %s", phoneNumber)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) ListSessions(ctx context.Context) ([]*domain.BotSession, error) {
	var sessions []*domain.BotSession
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

func (r *GormRepository) CleanupSessions(ctx context.Context, retention time.Duration) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("updated_at < ? AND is_connected = ?", time.Now().Add(-retention), false).
		Delete(&domain.BotSession{})
	return res.RowsAffected, res.Error
}

func (r *GormRepository) ResetConnections(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.BotSession{}).
		Where("is_connected = ?", true).
		Updates(map[string]interface{}{"is_connected": false, "updated_at": time.Now()})
	return res.RowsAffected, errors.Wrap(res.Error, "reset connections")
}

func (r *GormRepository) SaveMessage(ctx context.Context, msg *domain.BotMessage) error {
	if msg.ID == 0 {
		msg.ID = common.UUIDint64()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(msg).Error, "save message")
}

func (r *GormRepository) ListMessages(ctx context.Context, filter MessageFilter) ([]*domain.BotMessage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	query := r.db.WithContext(ctx).Model(&domain.BotMessage{})
	if filter.ChatId != "" {
		query = query.Where("chat_id = ?", filter.ChatId)
	}
	if !filter.Since.IsZero() {
		query = query.Where("timestamp >= ?", filter.Since)
	}
	var msgs []*domain.BotMessage
	err := query.Order("timestamp DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// MessageStats counts all messages and commands, in total and since local midnight.
func (r *GormRepository) MessageStats(ctx context.Context) (*domain.MessageStats, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var stats domain.MessageStats
	count := func(dst *int64, scopes ...func(*gorm.DB) *gorm.DB) func() error {
		return func() error {
			return r.db.WithContext(ctx).Model(&domain.BotMessage{}).Scopes(scopes...).Count(dst).Error
		}
	}
	isCommand := func(db *gorm.DB) *gorm.DB { return db.Where("command IS NOT NULL") }
	today := func(db *gorm.DB) *gorm.DB { return db.Where("timestamp >= ?", startOfDay) }

	var g errgroup.Group
	g.Go(count(&stats.TotalMessages))
	g.Go(count(&stats.TotalCommands, isCommand))
	g.Go(count(&stats.TodayMessages, today))
	g.Go(count(&stats.TodayCommands, isCommand, today))
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "message stats")
	}
	return &stats, nil
}

func (r *GormRepository) CleanupMessages(ctx context.Context, retention time.Duration) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("timestamp < ?", time.Now().Add(-retention)).
		Delete(&domain.BotMessage{})
	return res.RowsAffected, res.Error
}

func (r *GormRepository) CreateCommand(ctx context.Context, cmd *domain.BotCommand) error {
	if cmd.ID == 0 {
		cmd.ID = common.UUIDint64()
	}
	return errors.Wrapf(r.db.WithContext(ctx).Create(cmd).Error, "create command %s", cmd.Command)
}

func (r *GormRepository) GetCommand(ctx context.Context, id int64) (*domain.BotCommand, error) {
	var cmd domain.BotCommand
	if err := r.db.WithContext(ctx).First(&cmd, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &cmd, nil
}

func (r *GormRepository) UpdateCommand(ctx context.Context, cmd *domain.BotCommand) error {
	return errors.Wrapf(r.db.WithContext(ctx).Save(cmd).Error, "update command %s", cmd.Command)
}

func (r *GormRepository) DeleteCommand(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&domain.BotCommand{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) ListCommands(ctx context.Context, activeOnly bool) ([]*domain.BotCommand, error) {
	query := r.db.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var cmds []*domain.BotCommand
	err := query.Find(&cmds).Error
	return cmds, err
}

func (r *GormRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var cfg domain.BotConfig
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&cfg).Error; err != nil {
		return "", notFound(err)
	}
	return cfg.Value, nil
}

func (r *GormRepository) SetConfig(ctx context.Context, key, value string) error {
	now := time.Now()
	cfg := &domain.BotConfig{ID: common.UUIDint64(), Key: key, Value: value, CreatedAt: now, UpdatedAt: now}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"value": value, "updated_at": now}),
	}).Create(cfg).Error
	return errors.Wrapf(err, "set config %s", key)
}

func (r *GormRepository) ListConfigs(ctx context.Context) (map[string]string, error) {
	var rows []domain.BotConfig
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}
