// Package ingest turns raw agent activity reports into classified,
// persisted activities.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"insafe-backend/internal/models"
	"insafe-backend/internal/natsbus"
	"insafe-backend/internal/storage"
)

type Service struct {
	store  *storage.Storage
	events natsbus.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store *storage.Storage, events natsbus.Publisher, logger zerolog.Logger) *Service {
	if events == nil {
		events = natsbus.Nop{}
	}
	return &Service{
		store:  store,
		events: events,
		logger: logger.With().Str("component", "ingest").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores one activity per raw event. Events that fail to persist are
// logged and skipped; the number saved is returned.
func (s *Service) Ingest(ctx context.Context, agentID, employeeID string, raws []models.RawActivity) int {
	saved := 0
	highest := models.RiskLow

	for i, raw := range raws {
		activity, err := s.build(agentID, employeeID, raw)
		if err == nil {
			err = s.store.CreateActivity(ctx, activity)
		}
		if err != nil {
			s.logger.Warn().Err(err).
				Str("agent_id", agentID).
				Int("index", i).
				Str("type", raw.Type).
				Msg("activity skipped")
			continue
		}
		saved++
		highest = activity.RiskLevel.AtLeast(highest)
	}

	s.logger.Info().
		Str("agent_id", agentID).
		Int("received", len(raws)).
		Int("saved", saved).
		Msg("activities ingested")

	if saved > 0 {
		natsbus.Emit(ctx, s.events, s.logger, models.Event{
			Kind:       models.EventActivityIngested,
			AgentID:    agentID,
			EmployeeID: employeeID,
			Count:      saved,
			Attributes: map[string]string{"highest_risk": string(highest)},
		})
	}
	return saved
}

func (s *Service) build(agentID, employeeID string, raw models.RawActivity) (models.Activity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.Activity{}, err
	}
	t := MapType(raw.Type)
	return models.Activity{
		ID:          id.String(),
		EmployeeID:  employeeID,
		AgentID:     agentID,
		Type:        t,
		Description: raw.Description,
		Details:     BuildDetails(t, raw),
		RiskLevel:   ClassifyRisk(raw.Type, raw.Description),
		Timestamp:   s.now(),
	}, nil
}

func (s *Service) List(ctx context.Context, f models.ActivityFilter) ([]models.Activity, error) {
	return s.store.ListActivities(ctx, f)
}
