package models

import "time"

// InstanceType is the Koyeb instance tier requested for services created
// under an account.
type InstanceType string

const (
	InstanceFree   InstanceType = "free"
	InstanceMicro  InstanceType = "micro"
	InstanceSmall  InstanceType = "small"
	InstanceMedium InstanceType = "medium"
	InstanceLarge  InstanceType = "large"
)

// DefaultInstanceType is used when an account is created without a tier.
const DefaultInstanceType = InstanceMicro

var instanceTypes = map[InstanceType]bool{
	InstanceFree:   true,
	InstanceMicro:  true,
	InstanceSmall:  true,
	InstanceMedium: true,
	InstanceLarge:  true,
}

// Valid reports whether t is one of the known tiers.
func (t InstanceType) Valid() bool {
	return instanceTypes[t]
}

// Account is a credential set for one Koyeb account.
// APIKey and AppID are fixed at creation.
type Account struct {
	ID           int64
	Name         string
	APIKey       string
	AppID        string
	InstanceType InstanceType
	Enabled      bool
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// AccountStats aggregates the account pool.
type AccountStats struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}
