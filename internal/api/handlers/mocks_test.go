package handlers

import (
	"context"
	"errors"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ============ Mocks ============

type mockEngine struct {
	pairs         []*models.FundingRatePair
	opportunities []*bot.Opportunity
	stats         bot.EngineStats
}

func (m *mockEngine) Pairs() []*models.FundingRatePair  { return m.pairs }
func (m *mockEngine) Opportunities() []*bot.Opportunity { return m.opportunities }
func (m *mockEngine) Stats() bot.EngineStats            { return m.stats }

type mockPositionReader struct {
	positions []*models.Position
	err       error
}

func (m *mockPositionReader) FindOpenPositions(ctx context.Context, symbol string) ([]*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	if symbol == "" {
		return m.positions, nil
	}
	var out []*models.Position
	for _, p := range m.positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPositionReader) FindByGroupID(ctx context.Context, groupID string) ([]*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Position
	for _, p := range m.positions {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPositionReader) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.New("position not found")
}

type mockNotificationReader struct {
	notifications []*models.Notification
	err           error
}

func (m *mockNotificationReader) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > len(m.notifications) {
		limit = len(m.notifications)
	}
	return m.notifications[:limit], nil
}

type mockSettingsStore struct {
	settings map[int64]*models.UserExitSettings
	getErr   error
	saveErr  error
	saved    *models.UserExitSettings
}

func newMockSettingsStore() *mockSettingsStore {
	return &mockSettingsStore{settings: make(map[int64]*models.UserExitSettings)}
}

func (m *mockSettingsStore) GetUserExitSettings(ctx context.Context, userID int64) (*models.UserExitSettings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.settings[userID], nil
}

func (m *mockSettingsStore) UpsertUserExitSettings(ctx context.Context, settings *models.UserExitSettings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = settings
	m.settings[settings.UserID] = settings
	return nil
}
