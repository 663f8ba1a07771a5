package types

import "time"

// User represents a local account. Accounts are created either by password
// registration or by a first Discord login, and may later be linked to a
// Politics & War nation through API-key verification.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Email is the user's email address. Optional; unique when set.
	Email *string `json:"email" db:"email"`

	// Username is the unique login name chosen by the user. Optional;
	// Discord-only accounts may not have one.
	Username *string `json:"username" db:"username"`

	// PasswordHash stores the bcrypt hash of the user's password. Absent
	// for OAuth-only accounts. Never exposed in API responses.
	PasswordHash *string `json:"-" db:"password_hash"`

	// DiscordID is the user's Discord snowflake. Optional; unique when set.
	DiscordID *string `json:"discordId" db:"discord_id"`

	// DiscordUsername is the Discord display name, kept in sync on login.
	DiscordUsername *string `json:"discordUsername" db:"discord_username"`

	// NationID is the linked Politics & War nation. Optional; at most one
	// user may reference a given nation.
	NationID *int `json:"nationId" db:"nation_id"`

	// NationName and LeaderName are cached display fields for the linked
	// nation.
	NationName *string `json:"nationName" db:"nation_name"`
	LeaderName *string `json:"leaderName" db:"leader_name"`

	// APIKeyCiphertext holds the user's PnW API key, encrypted at rest.
	// Never exposed in API responses.
	APIKeyCiphertext []byte `json:"-" db:"api_key"`

	// Verified is true once a nation link has been established.
	Verified bool `json:"verified" db:"verified"`

	// LastActive is updated on every authenticated action.
	LastActive time.Time `json:"lastActive" db:"last_active"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DisplayName returns the name carried in session claims: the username when
// present, otherwise the Discord username.
func (u User) DisplayName() string {
	if u.Username != nil {
		return *u.Username
	}
	if u.DiscordUsername != nil {
		return *u.DiscordUsername
	}
	return ""
}
