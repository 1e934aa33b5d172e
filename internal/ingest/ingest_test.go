package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"insafe-backend/internal/models"
	"insafe-backend/internal/storage"
)

func TestMapType(t *testing.T) {
	tests := map[string]models.ActivityType{
		"usb_detected":      models.ActivityUSBDetected,
		"file_access":       models.ActivityFileAccess,
		"network_activity":  models.ActivityNetwork,
		"git_operation":     models.ActivityGitOperation,
		"login":             models.ActivityLogin,
		"application_usage": models.ActivityApplicationUsage,
		"screen_capture":    models.ActivityApplicationUsage,
		"":                  models.ActivityApplicationUsage,
	}
	for in, want := range tests {
		if got := MapType(in); got != want {
			t.Errorf("MapType(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		agentType   string
		description string
		want        models.RiskLevel
	}{
		{"file_access", "Accessed ssh key", models.RiskHigh},
		{"file_access", "Opened PASSWORDS.txt", models.RiskHigh},
		{"file_access", "copied credentials.json", models.RiskHigh},
		{"usb_detected", "Kingston DataTraveler", models.RiskHigh},
		{"file_access", "Downloaded report.pdf", models.RiskMedium},
		{"application_usage", "git push origin main", models.RiskMedium},
		{"network_activity", "connection to 10.0.0.5", models.RiskMedium},
		{"network_activity", "uploaded private key", models.RiskHigh},
		{"login", "user logged in", models.RiskLow},
		{"something_else", "", models.RiskLow},
	}
	for _, tt := range tests {
		if got := ClassifyRisk(tt.agentType, tt.description); got != tt.want {
			t.Errorf("ClassifyRisk(%q, %q) = %s, want %s", tt.agentType, tt.description, got, tt.want)
		}
	}
}

func TestBuildDetails(t *testing.T) {
	raw := models.RawActivity{
		Type:        "file_access",
		Description: "opened file",
		Metadata:    map[string]any{"fileName": "a.txt", "size": "huge", "extra": true},
		Timestamp:   json.RawMessage(`"2026-01-01T10:00:00Z"`),
	}

	details := BuildDetails(models.ActivityFileAccess, raw)
	if details.File == nil || details.File.FileName != "a.txt" {
		t.Fatalf("file variant not decoded: %+v", details.File)
	}
	if details.USB != nil || details.Application != nil {
		t.Error("only the matching variant should be set")
	}
	if details.OriginalType != "file_access" || details.AgentTimestamp != "2026-01-01T10:00:00Z" {
		t.Errorf("unexpected envelope %+v", details)
	}
	if details.Metadata["extra"] != true {
		t.Error("raw metadata not kept")
	}

	unknown := BuildDetails(MapType("clipboard"), models.RawActivity{Type: "clipboard", Timestamp: json.RawMessage(`1767261600000`)})
	if unknown.Application == nil || unknown.OriginalType != "clipboard" || unknown.AgentTimestamp != "1767261600000" {
		t.Errorf("unexpected details for unknown type %+v", unknown)
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	svc := NewService(store, nil, zerolog.Nop())
	saved := svc.Ingest(ctx, "agent-1", "EMP_A", []models.RawActivity{
		{Type: "file_access", Description: "read ssh key"},
		{Type: "usb_detected", Description: "device attached", Metadata: map[string]any{"deviceName": "Kingston"}},
		{Type: "weird", Description: "something"},
	})
	if saved != 3 {
		t.Fatalf("expected 3 saved, got %d", saved)
	}

	high, err := svc.List(ctx, models.ActivityFilter{RiskLevel: models.RiskHigh})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(high) != 2 {
		t.Errorf("expected 2 high risk activities, got %d", len(high))
	}

	usb, _ := svc.List(ctx, models.ActivityFilter{Type: models.ActivityUSBDetected})
	if len(usb) != 1 || usb[0].Details.USB == nil || usb[0].Details.USB.DeviceName != "Kingston" {
		t.Errorf("unexpected usb activity %+v", usb)
	}

	other, _ := svc.List(ctx, models.ActivityFilter{Type: models.ActivityApplicationUsage})
	if len(other) != 1 || other[0].Details.OriginalType != "weird" || other[0].RiskLevel != models.RiskLow {
		t.Errorf("unexpected fallback activity %+v", other)
	}

	if got := svc.Ingest(ctx, "agent-1", "EMP_A", nil); got != 0 {
		t.Errorf("empty batch saved %d", got)
	}
}
