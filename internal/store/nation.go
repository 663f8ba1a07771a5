package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alliancemanager/apiserver/types"
)

// NationRepository handles the nation cache table.
type NationRepository struct {
	db *sql.DB
}

func NewNationRepository(db *sql.DB) *NationRepository {
	return &NationRepository{db: db}
}

func (r *NationRepository) Get(ctx context.Context, id int) (types.Nation, error) {
	const query = `
		SELECT id, nation_name, leader_name, alliance_id, alliance_name, score, cities,
			color, continent, war_policy, domestic_policy, last_active, updated_at
		FROM nations
		WHERE id = $1`
	var nation types.Nation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&nation.ID,
		&nation.NationName,
		&nation.LeaderName,
		&nation.AllianceID,
		&nation.AllianceName,
		&nation.Score,
		&nation.Cities,
		&nation.Color,
		&nation.Continent,
		&nation.WarPolicy,
		&nation.DomesticPolicy,
		&nation.LastActive,
		&nation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Nation{}, ErrNotFound
		}
		return types.Nation{}, err
	}
	return nation, nil
}

// Upsert writes the cached copy of a nation, replacing any existing row.
func (r *NationRepository) Upsert(ctx context.Context, nation types.Nation) (types.Nation, error) {
	nation.UpdatedAt = time.Now()

	const query = `
		INSERT INTO nations (id, nation_name, leader_name, alliance_id, alliance_name, score,
			cities, color, continent, war_policy, domestic_policy, last_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			nation_name = EXCLUDED.nation_name,
			leader_name = EXCLUDED.leader_name,
			alliance_id = EXCLUDED.alliance_id,
			alliance_name = EXCLUDED.alliance_name,
			score = EXCLUDED.score,
			cities = EXCLUDED.cities,
			color = EXCLUDED.color,
			continent = EXCLUDED.continent,
			war_policy = EXCLUDED.war_policy,
			domestic_policy = EXCLUDED.domestic_policy,
			last_active = EXCLUDED.last_active,
			updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(
		ctx,
		query,
		nation.ID,
		nation.NationName,
		nation.LeaderName,
		nation.AllianceID,
		nation.AllianceName,
		nation.Score,
		nation.Cities,
		nation.Color,
		nation.Continent,
		nation.WarPolicy,
		nation.DomesticPolicy,
		nation.LastActive,
		nation.UpdatedAt,
	)
	if err != nil {
		return types.Nation{}, err
	}
	return nation, nil
}
