package models

import "time"

type ActivityType string

const (
	ActivityFileAccess       ActivityType = "file_access"
	ActivityUSBDetected      ActivityType = "usb_detected"
	ActivityGitOperation     ActivityType = "git_operation"
	ActivityLogin            ActivityType = "login"
	ActivityApplicationUsage ActivityType = "application_usage"
	ActivityNetwork          ActivityType = "network_activity"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityFileAccess, ActivityUSBDetected, ActivityGitOperation,
		ActivityLogin, ActivityApplicationUsage, ActivityNetwork:
		return true
	}
	return false
}

type FileDetails struct {
	FileName string `json:"fileName,omitempty"`
	FilePath string `json:"filePath,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Action   string `json:"action,omitempty"`
}

type USBDetails struct {
	DeviceName string `json:"deviceName,omitempty"`
	VendorID   string `json:"vendorId,omitempty"`
	ProductID  string `json:"productId,omitempty"`
	Serial     string `json:"serial,omitempty"`
}

type GitDetails struct {
	Command    string `json:"command,omitempty"`
	Repository string `json:"repository,omitempty"`
	Remote     string `json:"remote,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

type LoginDetails struct {
	Username string `json:"username,omitempty"`
	Method   string `json:"method,omitempty"`
	Success  *bool  `json:"success,omitempty"`
}

type ApplicationDetails struct {
	Application string `json:"application,omitempty"`
	WindowTitle string `json:"windowTitle,omitempty"`
	Duration    int64  `json:"duration,omitempty"`
}

type NetworkDetails struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	BytesSent int64  `json:"bytesSent,omitempty"`
}

// ActivityDetails carries exactly one typed variant matching the activity
// type, plus the metadata exactly as the agent sent it.
type ActivityDetails struct {
	OriginalType   string              `json:"originalType"`
	AgentTimestamp string              `json:"agentTimestamp,omitempty"`
	File           *FileDetails        `json:"file,omitempty"`
	USB            *USBDetails         `json:"usb,omitempty"`
	Git            *GitDetails         `json:"git,omitempty"`
	Login          *LoginDetails       `json:"login,omitempty"`
	Application    *ApplicationDetails `json:"application,omitempty"`
	Network        *NetworkDetails     `json:"network,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
}

type Activity struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employeeId"`
	AgentID     string          `json:"agentId"`
	Type        ActivityType    `json:"type"`
	Description string          `json:"description"`
	Details     ActivityDetails `json:"details"`
	RiskLevel   RiskLevel       `json:"riskLevel"`
	Blocked     bool            `json:"blocked"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ActivityFilter selects activities for the dashboard. At most one of the
// selector fields is honoured, in declaration order.
type ActivityFilter struct {
	EmployeeID string
	AgentID    string
	Type       ActivityType
	RiskLevel  RiskLevel
	Limit      int
}
