package types

import "time"

// Nation is a locally cached mirror of one Politics & War nation, keyed by
// the external nation id. Rows are upserted whenever a verification or
// refresh fetches fresh data; nothing creates them independently.
type Nation struct {
	// ID is the PnW nation id.
	ID int `json:"id" db:"id"`

	// NationName and LeaderName are the nation's display names.
	NationName string `json:"nationName" db:"nation_name"`
	LeaderName string `json:"leaderName" db:"leader_name"`

	// Alliance membership, if any.
	AllianceID   *int    `json:"allianceId" db:"alliance_id"`
	AllianceName *string `json:"allianceName" db:"alliance_name"`

	// Gameplay attributes reported by the directory.
	Score     *float64 `json:"score" db:"score"`
	Cities    *int     `json:"cities" db:"cities"`
	Color     *string  `json:"color" db:"color"`
	Continent *string  `json:"continent" db:"continent"`

	// Policy settings reported by the directory.
	WarPolicy      *string `json:"warPolicy" db:"war_policy"`
	DomesticPolicy *string `json:"domesticPolicy" db:"domestic_policy"`

	// LastActive is the nation's in-game last-active time.
	LastActive *time.Time `json:"lastActive" db:"last_active"`

	// UpdatedAt records when this cache row was last written.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
