// Package liveness derives whether an agent is online from its last heartbeat.
package liveness

import (
	"time"

	"insafe-backend/internal/models"
)

// DefaultWindow is how long a heartbeat keeps an agent online.
const DefaultWindow = 5 * time.Minute

// IsOnline reports whether agent reported online within window of now.
// The stored status alone is not trusted; there is no background sweeper.
func IsOnline(agent models.Agent, now time.Time, window time.Duration) bool {
	if agent.Status != models.AgentStatusOnline {
		return false
	}
	return now.Sub(agent.LastSeen) <= window
}

// FilterOnline keeps the agents that are online at now.
func FilterOnline(agents []models.Agent, now time.Time, window time.Duration) []models.Agent {
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if IsOnline(a, now, window) {
			out = append(out, a)
		}
	}
	return out
}

// Stats counts online and offline agents at now.
func Stats(agents []models.Agent, now time.Time, window time.Duration) models.AgentStats {
	stats := models.AgentStats{TotalAgents: len(agents)}
	for _, a := range agents {
		if IsOnline(a, now, window) {
			stats.OnlineAgents++
		}
	}
	stats.OfflineAgents = stats.TotalAgents - stats.OnlineAgents
	return stats
}
