package models

import (
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

func (r RiskLevel) Valid() bool {
	return r.rank() > 0
}

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// AtLeast returns the higher of r and floor.
func (r RiskLevel) AtLeast(floor RiskLevel) RiskLevel {
	if r.rank() < floor.rank() {
		return floor
	}
	return r
}

type EmployeeStatus string

const (
	EmployeeActive     EmployeeStatus = "ACTIVE"
	EmployeeSuspended  EmployeeStatus = "SUSPENDED"
	EmployeeTerminated EmployeeStatus = "TERMINATED"
)

type Employee struct {
	ID         string         `json:"id"`
	EmployeeID string         `json:"employeeId"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	Email      string         `json:"email"`
	Department string         `json:"department"`
	Role       string         `json:"role"`
	Status     EmployeeStatus `json:"status"`
	RiskLevel  RiskLevel      `json:"riskLevel"`
	RiskScore  int            `json:"riskScore"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// PlaceholderEmployee builds the record used when an agent self-onboards
// without an HR-provisioned employee id.
func PlaceholderEmployee(username, emailDomain string) Employee {
	return Employee{
		EmployeeID: "EMP_" + strings.ToUpper(username),
		FirstName:  username,
		LastName:   "Agent User",
		Email:      username + "@" + emailDomain,
		Department: "IT",
		Role:       "Agent User",
		Status:     EmployeeActive,
		RiskLevel:  RiskLow,
	}
}
