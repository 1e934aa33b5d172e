package models

import (
	"fmt"
	"time"
)

type AgentStatus string

const (
	AgentStatusRegistered AgentStatus = "registered"
	AgentStatusOnline     AgentStatus = "online"
	AgentStatusOffline    AgentStatus = "offline"
	AgentStatusError      AgentStatus = "error"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusRegistered, AgentStatusOnline, AgentStatusOffline, AgentStatusError:
		return true
	}
	return false
}

// BlockedService names one restriction an agent can enforce on its host.
type BlockedService string

const (
	ServiceGit              BlockedService = "git"
	ServiceUSB              BlockedService = "usb"
	ServiceFileUploads      BlockedService = "fileUploads"
	ServiceEmailAttachments BlockedService = "emailAttachments"
)

type Capabilities struct {
	USBControl             bool `json:"usbControl"`
	GitControl             bool `json:"gitControl"`
	FileMonitoring         bool `json:"fileMonitoring"`
	FileUploadControl      bool `json:"fileUploadControl"`
	EmailAttachmentControl bool `json:"emailAttachmentControl"`
}

// DefaultCapabilities is what a freshly registered agent advertises.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		USBControl:             true,
		GitControl:             true,
		FileMonitoring:         true,
		FileUploadControl:      true,
		EmailAttachmentControl: true,
	}
}

type BlockedServices struct {
	Git              bool `json:"git"`
	USB              bool `json:"usb"`
	FileUploads      bool `json:"fileUploads"`
	EmailAttachments bool `json:"emailAttachments"`
}

// Set flips exactly one flag.
func (b *BlockedServices) Set(service BlockedService, blocked bool) error {
	switch service {
	case ServiceGit:
		b.Git = blocked
	case ServiceUSB:
		b.USB = blocked
	case ServiceFileUploads:
		b.FileUploads = blocked
	case ServiceEmailAttachments:
		b.EmailAttachments = blocked
	default:
		return fmt.Errorf("unknown blocked service %q", service)
	}
	return nil
}

type MemoryInfo struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

type CPUInfo struct {
	Count int     `json:"count"`
	Usage float64 `json:"usage"`
}

// SystemInfo is the snapshot an agent attaches to its heartbeat.
type SystemInfo struct {
	Uptime      uint64     `json:"uptime"`
	Memory      MemoryInfo `json:"memory"`
	CPU         CPUInfo    `json:"cpu"`
	LoadAverage []float64  `json:"loadAverage,omitempty"`
}

// Fingerprint is the durable identity key of a machine across re-registrations.
type Fingerprint struct {
	Hostname   string `json:"hostname"`
	MacAddress string `json:"macAddress"`
}

type Agent struct {
	AgentID         string          `json:"agentId"`
	EmployeeID      string          `json:"employeeId"`
	Hostname        string          `json:"hostname"`
	MacAddress      string          `json:"macAddress"`
	Platform        string          `json:"platform"`
	Version         string          `json:"version"`
	IPAddress       string          `json:"ipAddress"`
	Status          AgentStatus     `json:"status"`
	LastSeen        time.Time       `json:"lastSeen"`
	SystemInfo      *SystemInfo     `json:"systemInfo,omitempty"`
	Capabilities    Capabilities    `json:"capabilities"`
	BlockedServices BlockedServices `json:"blockedServices"`
	RegisteredAt    time.Time       `json:"registeredAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (a *Agent) Fingerprint() Fingerprint {
	return Fingerprint{Hostname: a.Hostname, MacAddress: a.MacAddress}
}
