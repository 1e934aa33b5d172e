package ingest

import (
	"encoding/json"
	"strings"

	"insafe-backend/internal/models"
)

var (
	highRiskKeywords   = []string{"password", "ssh", "key", "credential"}
	mediumRiskKeywords = []string{"download", "network", "git"}
)

// MapType maps an agent-reported type onto the canonical set. Anything
// unrecognised is recorded as application usage.
func MapType(agentType string) models.ActivityType {
	t := models.ActivityType(agentType)
	if t.Valid() {
		return t
	}
	return models.ActivityApplicationUsage
}

// ClassifyRisk scores an event from its reported type and description.
// Credential-like keywords and usb_detected are HIGH; download, network or
// git mentions and network_activity are at least MEDIUM.
func ClassifyRisk(agentType, description string) models.RiskLevel {
	desc := strings.ToLower(description)

	if containsAny(desc, highRiskKeywords) || agentType == string(models.ActivityUSBDetected) {
		return models.RiskHigh
	}
	if containsAny(desc, mediumRiskKeywords) || agentType == string(models.ActivityNetwork) {
		return models.RiskMedium
	}
	return models.RiskLow
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// BuildDetails keeps the raw metadata and decodes the variant that matches t
// from it. Metadata that does not fit the variant leaves it empty.
func BuildDetails(t models.ActivityType, raw models.RawActivity) models.ActivityDetails {
	details := models.ActivityDetails{
		OriginalType:   raw.Type,
		AgentTimestamp: raw.TimestampString(),
		Metadata:       raw.Metadata,
	}

	switch t {
	case models.ActivityFileAccess:
		details.File = &models.FileDetails{}
		decodeMetadata(raw.Metadata, details.File)
	case models.ActivityUSBDetected:
		details.USB = &models.USBDetails{}
		decodeMetadata(raw.Metadata, details.USB)
	case models.ActivityGitOperation:
		details.Git = &models.GitDetails{}
		decodeMetadata(raw.Metadata, details.Git)
	case models.ActivityLogin:
		details.Login = &models.LoginDetails{}
		decodeMetadata(raw.Metadata, details.Login)
	case models.ActivityNetwork:
		details.Network = &models.NetworkDetails{}
		decodeMetadata(raw.Metadata, details.Network)
	default:
		details.Application = &models.ApplicationDetails{}
		decodeMetadata(raw.Metadata, details.Application)
	}
	return details
}

func decodeMetadata(metadata map[string]any, dst any) {
	if len(metadata) == 0 {
		return
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return
	}
	// a mistyped value only skips that field
	_ = json.Unmarshal(data, dst)
}
