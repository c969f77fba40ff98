package models

import "time"

// Mission type identifiers for the fixed daily templates
const (
	MissionTypeCheckin       = "daily_checkin"
	MissionTypeDiscovery     = "discovery_open"
	MissionTypeCubeActivator = "cube_activator"
	MissionTypeCubeMaster    = "cube_master"
)

// MissionTemplate describes one of the daily mission definitions supplied
// at instantiation time.
type MissionTemplate struct {
	Type        string `json:"type" mapstructure:"type"`
	Title       string `json:"title" mapstructure:"title"`
	Description string `json:"description" mapstructure:"description"`
	Target      int    `json:"target" mapstructure:"target"`
}

// MissionID returns the natural key for this template on a given day
// (type plus date), e.g. "cube_activator_2025-08-31".
func (t MissionTemplate) MissionID(date string) string {
	return t.Type + "_" + date
}

// MissionInstance is one user's copy of a daily mission. Instances are
// keyed (user_address, date, mission_id); progress never exceeds target
// and completed never reverts within the same day.
type MissionInstance struct {
	UserAddress string     `json:"user_address" db:"user_address"`
	Date        string     `json:"date" db:"date"`
	MissionID   string     `json:"mission_id" db:"mission_id"`
	MissionType string     `json:"mission_type" db:"mission_type"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Target      int        `json:"target" db:"target"`
	Progress    int        `json:"progress" db:"progress"`
	Completed   bool       `json:"completed" db:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
