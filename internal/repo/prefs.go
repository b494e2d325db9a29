package repo

import (
	"context"
	"database/sql"
	"time"

	"gopkg.in/yaml.v3"

	"braindump/internal/config"
)

// UpsertProfileConfig stores the preference YAML for a profile.
func (r Repo) UpsertProfileConfig(ctx context.Context, profileID string, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertProfileConfigTx(ctx, tx, profileID, cfg); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpsertProfileConfigTx(ctx context.Context, tx *sql.Tx, profileID string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO profile_config(profile_id,yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(profile_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`,
		profileID, string(data), now)
	return err
}

// GetProfileConfig loads and validates the stored preference YAML.
func (r Repo) GetProfileConfig(ctx context.Context, profileID string) (*config.Config, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT yaml FROM profile_config WHERE profile_id=?`, profileID)
	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}
