package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/loomline/loomline-engine/pkg/models"
)

// RoleFixture is one catalog entry in a YAML seed file.
type RoleFixture struct {
	ID              string  `yaml:"id"`
	Key             string  `yaml:"key"`
	Name            string  `yaml:"name"`
	Description     string  `yaml:"description"`
	DefaultSequence int     `yaml:"default_sequence"`
	DefaultCO2Kg    float64 `yaml:"default_co2_kg"`
}

type rolesFile struct {
	Roles []RoleFixture `yaml:"roles"`
}

// LoadRoles parses a role catalog fixture file into catalog entries.
func LoadRoles(path string) ([]*models.Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role fixture: %w", err)
	}
	return ParseRoles(data)
}

// ParseRoles parses YAML role fixture data into catalog entries.
func ParseRoles(data []byte) ([]*models.Role, error) {
	var file rolesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse role fixture: %w", err)
	}

	roles := make([]*models.Role, 0, len(file.Roles))
	seen := make(map[string]bool)
	for _, f := range file.Roles {
		if f.Key == "" {
			return nil, fmt.Errorf("role fixture entry missing key")
		}
		if seen[f.Key] {
			return nil, fmt.Errorf("duplicate role key in fixture: %s", f.Key)
		}
		seen[f.Key] = true

		id := uuid.New()
		if f.ID != "" {
			parsed, err := uuid.Parse(f.ID)
			if err != nil {
				return nil, fmt.Errorf("invalid id for role %s: %w", f.Key, err)
			}
			id = parsed
		}

		role := &models.Role{
			ID:              id,
			Key:             f.Key,
			Name:            f.Name,
			DefaultSequence: f.DefaultSequence,
			DefaultCO2Kg:    f.DefaultCO2Kg,
		}
		if f.Description != "" {
			desc := f.Description
			role.Description = &desc
		}
		roles = append(roles, role)
	}

	return roles, nil
}

// Apply upserts catalog entries by key. Existing roles are updated in
// place so a fixture can evolve names, sequences, and CO2 defaults without
// breaking role-id references in existing lots.
func Apply(ctx context.Context, pool *pgxpool.Pool, roles []*models.Role) error {
	query := `
		INSERT INTO roles (id, key, name, description, default_sequence, default_co2_kg)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    default_sequence = EXCLUDED.default_sequence,
		    default_co2_kg = EXCLUDED.default_co2_kg`

	for _, r := range roles {
		if _, err := pool.Exec(ctx, query,
			r.ID, r.Key, r.Name, r.Description, r.DefaultSequence, r.DefaultCO2Kg); err != nil {
			return fmt.Errorf("failed to apply role %s: %w", r.Key, err)
		}
	}
	return nil
}

// CatalogMap indexes roles by id for normalizer input.
func CatalogMap(roles []*models.Role) map[uuid.UUID]*models.Role {
	catalog := make(map[uuid.UUID]*models.Role, len(roles))
	for _, r := range roles {
		catalog[r.ID] = r
	}
	return catalog
}
