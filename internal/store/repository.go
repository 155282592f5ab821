// Package store persists simulation runs, GTO estimates and lineup builds.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/race-sim/internal/gto"
	"github.com/stitts-dev/race-sim/internal/lineup"
	"github.com/stitts-dev/race-sim/internal/models"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/simulator"
	"github.com/stitts-dev/race-sim/pkg/database"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	db  *database.DB
	log *logrus.Entry
}

func NewRepository(db *database.DB, log *logrus.Entry) *Repository {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Repository{db: db, log: log.WithField("component", "repository")}
}

// Migrate creates or updates every table.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// SaveRun stores run and, when in is not nil, the race input it was
// simulated from.
func (r *Repository) SaveRun(ctx context.Context, run *simulator.RunResult, in *profile.RaceInput) error {
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	if in != nil {
		if m.Input, err = marshal(in); err != nil {
			return fmt.Errorf("encode race input: %w", err)
		}
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	r.log.WithFields(logrus.Fields{"run_id": run.ID, "competitors": len(m.Competitors)}).Debug("Run saved")
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*simulator.RunResult, error) {
	var m models.SimulationRun
	err := r.db.WithContext(ctx).
		Preload("Competitors", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal") }).
		Preload("Constructors", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal") }).
		First(&m, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return fromRunModel(&m)
}

// GetInput returns the race input stored with run id.
func (r *Repository) GetInput(ctx context.Context, id uuid.UUID) (*profile.RaceInput, error) {
	var m models.SimulationRun
	err := r.db.WithContext(ctx).Select("id", "input").First(&m, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load input for run %s: %w", id, err)
	}
	if len(m.Input) == 0 {
		return nil, fmt.Errorf("run %s has no stored input: %w", id, ErrNotFound)
	}
	var in profile.RaceInput
	if err := unmarshal(m.Input, &in); err != nil {
		return nil, fmt.Errorf("decode input for run %s: %w", id, err)
	}
	return &in, nil
}

// ListRuns returns run headers, newest first, without their arrays.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]models.SimulationRun, error) {
	var runs []models.SimulationRun
	q := r.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Omit("input", "total_cautions").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// SaveGTO stores res for (runID, site), replacing any earlier estimate.
func (r *Repository) SaveGTO(ctx context.Context, runID uuid.UUID, site string, res *gto.Result) error {
	m, err := toGTOModel(runID, site, res)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "site"}},
		DoUpdates: clause.AssignmentColumns([]string{"iterations", "infeasible_iterations", "exposures", "pool", "created_at"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to save gto for run %s: %w", runID, err)
	}
	return nil
}

func (r *Repository) GetGTO(ctx context.Context, runID uuid.UUID, site string) (*gto.Result, error) {
	var m models.GTOResult
	err := r.db.WithContext(ctx).First(&m, "run_id = ? AND site = ?", runID.String(), site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("gto for run %s on %s: %w", runID, site, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load gto for run %s: %w", runID, err)
	}
	return fromGTOModel(&m)
}

// SaveLineups replaces the stored build for (runID, site) with cands.
func (r *Repository) SaveLineups(ctx context.Context, runID uuid.UUID, site string, cands []*lineup.Candidate) error {
	rows := make([]models.LineupCandidate, 0, len(cands))
	for _, c := range cands {
		m, err := toLineupModel(runID, site, c)
		if err != nil {
			return err
		}
		rows = append(rows, *m)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ? AND site = ?", runID.String(), site).Delete(&models.LineupCandidate{}).Error; err != nil {
			return fmt.Errorf("failed to clear lineups for run %s: %w", runID, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to save lineups for run %s: %w", runID, err)
		}
		return nil
	})
}

// ListLineups returns the stored candidates for runID, best first. An empty
// site lists every site's build.
func (r *Repository) ListLineups(ctx context.Context, runID uuid.UUID, site string, limit int) ([]*lineup.Candidate, error) {
	var rows []models.LineupCandidate
	q := r.db.WithContext(ctx).Where("run_id = ?", runID.String())
	if site != "" {
		q = q.Where("site = ?", site)
	}
	q = q.Order("sort_proj desc").Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list lineups for run %s: %w", runID, err)
	}

	cands := make([]*lineup.Candidate, 0, len(rows))
	for i := range rows {
		c, err := fromLineupModel(&rows[i])
		if err != nil {
			return nil, err
		}
		cands = append(cands, c)
	}
	return cands, nil
}

// DeleteRunsBefore removes runs created before cutoff together with their
// results, estimates and lineups. It returns the IDs of the removed runs.
func (r *Repository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SimulationRun{}).Where("created_at < ?", cutoff.UTC()).Pluck("id", &ids).Error; err != nil {
			return err
		}
		return deleteRuns(tx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if len(ids) > 0 {
		r.log.WithFields(logrus.Fields{"deleted": len(ids), "cutoff": cutoff}).Info("Deleted expired runs")
	}
	return ids, nil
}

// DeleteRun removes one run and everything stored for it.
func (r *Repository) DeleteRun(ctx context.Context, id uuid.UUID) error {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SimulationRun{}).Where("id = ?", id.String()).Count(&deleted).Error; err != nil {
			return err
		}
		return deleteRuns(tx, []string{id.String()})
	})
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if deleted == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

func deleteRuns(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, child := range []interface{}{
		&models.CompetitorResult{},
		&models.ConstructorResult{},
		&models.GTOResult{},
		&models.LineupCandidate{},
	} {
		if err := tx.Where("run_id IN ?", ids).Delete(child).Error; err != nil {
			return err
		}
	}
	return tx.Where("id IN ?", ids).Delete(&models.SimulationRun{}).Error
}
