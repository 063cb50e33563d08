package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"kisan-backend/internal/domain"
)

//go:embed catalog/schemes.yaml
var defaultSchemesYAML []byte

//go:embed catalog/crops.yaml
var defaultCropsYAML []byte

// DefaultSchemes parses the built-in scheme catalog
func DefaultSchemes() ([]domain.Scheme, error) {
	var schemes []domain.Scheme
	if err := yaml.Unmarshal(defaultSchemesYAML, &schemes); err != nil {
		return nil, fmt.Errorf("parse scheme catalog: %w", err)
	}
	return schemes, nil
}

// DefaultCrops parses the built-in crop catalog
func DefaultCrops() ([]domain.Crop, error) {
	var crops []domain.Crop
	if err := yaml.Unmarshal(defaultCropsYAML, &crops); err != nil {
		return nil, fmt.Errorf("parse crop catalog: %w", err)
	}
	return crops, nil
}

// SeedCatalogs loads the built-in schemes and crops. Existing rows are left
// alone so admin edits survive restarts.
func (s *Store) SeedCatalogs(ctx context.Context) error {
	schemes, err := DefaultSchemes()
	if err != nil {
		return err
	}
	crops, err := DefaultCrops()
	if err != nil {
		return err
	}

	now := s.now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, sc := range schemes {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO schemes (slug, name, ministry, category, states, benefits, eligibility,
					how_to_apply, url, deadline, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sc.Slug, sc.Name, sc.Ministry, sc.Category, encodeList(sc.States), sc.Benefits,
				sc.Eligibility, sc.HowToApply, sc.URL, nullTime(sc.Deadline), now); err != nil {
				return fmt.Errorf("seed scheme %s: %w", sc.Slug, err)
			}
		}
		for _, c := range crops {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO crops (name, local_name, seasons, soils, min_temp, max_temp, min_rain,
					max_rain, water_need, duration_days)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.Name, c.LocalName, encodeList(c.Seasons), encodeList(c.Soils), c.MinTempC, c.MaxTempC,
				c.MinRainMM, c.MaxRainMM, c.WaterNeed, c.DurationDays); err != nil {
				return fmt.Errorf("seed crop %s: %w", c.Name, err)
			}
		}
		s.logger.Info("catalogs seeded", zap.Int("schemes", len(schemes)), zap.Int("crops", len(crops)))
		return nil
	})
}

const schemeColumns = `slug, name, ministry, category, states, benefits, eligibility, how_to_apply, url, deadline, updated_at`

func scanScheme(row interface{ Scan(...any) error }) (domain.Scheme, error) {
	var sc domain.Scheme
	var states string
	var deadline sql.NullTime
	err := row.Scan(&sc.Slug, &sc.Name, &sc.Ministry, &sc.Category, &states, &sc.Benefits, &sc.Eligibility,
		&sc.HowToApply, &sc.URL, &deadline, &sc.UpdatedAt)
	sc.States = decodeList(states)
	if sc.States == nil {
		sc.States = []string{}
	}
	sc.Deadline = timePtr(deadline)
	return sc, err
}

// ListSchemes filters the catalog. A state filter also matches national schemes.
func (s *Store) ListSchemes(ctx context.Context, f domain.SchemeFilter, page domain.PageRequest) (domain.Page[domain.Scheme], error) {
	page = page.Normalize()
	var w where
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if f.State != "" {
		w.add(`(states = '[]' OR EXISTS (SELECT 1 FROM json_each(schemes.states) WHERE LOWER(json_each.value) = ?))`,
			strings.ToLower(f.State))
	}
	if f.Search != "" {
		pat := likePattern(f.Search)
		w.add(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(benefits) LIKE ? ESCAPE '\' OR LOWER(eligibility) LIKE ? ESCAPE '\')`, pat, pat, pat)
	}

	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM schemes`+w.String(), w.args...)
	if err != nil {
		return domain.Page[domain.Scheme]{}, fmt.Errorf("count schemes: %w", err)
	}
	args := append(append([]any{}, w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx, `SELECT `+schemeColumns+` FROM schemes`+w.String()+` ORDER BY name LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return domain.Page[domain.Scheme]{}, fmt.Errorf("list schemes: %w", err)
	}
	defer rows.Close()

	var items []domain.Scheme
	for rows.Next() {
		sc, err := scanScheme(rows)
		if err != nil {
			return domain.Page[domain.Scheme]{}, err
		}
		items = append(items, sc)
	}
	return domain.NewPage(items, page, total), rows.Err()
}

func (s *Store) GetScheme(ctx context.Context, slug string) (domain.Scheme, error) {
	sc, err := scanScheme(s.db.QueryRowContext(ctx, `SELECT `+schemeColumns+` FROM schemes WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return sc, notFound("scheme", slug)
	}
	return sc, err
}

// UpsertScheme inserts or replaces a scheme by slug
func (s *Store) UpsertScheme(ctx context.Context, sc *domain.Scheme) error {
	sc.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO schemes (slug, name, ministry, category, states, benefits, eligibility,
			how_to_apply, url, deadline, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.Slug, sc.Name, sc.Ministry, sc.Category, encodeList(sc.States), sc.Benefits, sc.Eligibility,
		sc.HowToApply, sc.URL, nullTime(sc.Deadline), sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert scheme: %w", err)
	}
	return nil
}

const cropColumns = `name, local_name, seasons, soils, min_temp, max_temp, min_rain, max_rain, water_need, duration_days`

func scanCrop(row interface{ Scan(...any) error }) (domain.Crop, error) {
	var c domain.Crop
	var seasons, soils string
	err := row.Scan(&c.Name, &c.LocalName, &seasons, &soils, &c.MinTempC, &c.MaxTempC, &c.MinRainMM,
		&c.MaxRainMM, &c.WaterNeed, &c.DurationDays)
	c.Seasons = decodeList(seasons)
	c.Soils = decodeList(soils)
	return c, err
}

// ListCrops returns the crop catalog sorted by name
func (s *Store) ListCrops(ctx context.Context) ([]domain.Crop, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cropColumns+` FROM crops ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list crops: %w", err)
	}
	defer rows.Close()

	crops := []domain.Crop{}
	for rows.Next() {
		c, err := scanCrop(rows)
		if err != nil {
			return nil, err
		}
		crops = append(crops, c)
	}
	return crops, rows.Err()
}

func (s *Store) GetCrop(ctx context.Context, name string) (domain.Crop, error) {
	c, err := scanCrop(s.db.QueryRowContext(ctx, `SELECT `+cropColumns+` FROM crops WHERE name = ? COLLATE NOCASE`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return c, notFound("crop", name)
	}
	return c, err
}
