package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/models"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrInvalidReport  = errors.New("report content must be valid JSON")
)

// GetReport returns the report submitted for an instance.
func (o *Orchestrator) GetReport(ctx context.Context, instanceID uint) (*models.Report, error) {
	if err := o.ensureInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	report := &models.Report{}
	err := o.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get report for instance %d", instanceID)
	}

	return report, nil
}

// SaveReport stores content as the instance's report, replacing any
// earlier submission.
func (o *Orchestrator) SaveReport(ctx context.Context, instanceID uint, content json.RawMessage) (*models.Report, error) {
	if !json.Valid(content) {
		return nil, ErrInvalidReport
	}
	if err := o.ensureInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	report := &models.Report{InstanceID: instanceID, Content: datatypes.JSON(content)}
	err := o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(report).Error
	if err != nil {
		return nil, errors.Wrapf(err, "save report for instance %d", instanceID)
	}

	saved, err := o.GetReport(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	o.bus.Publish(event.NewEvent(event.TypeReportSaved, saved.InstanceKey(), map[string]uint{"report_id": saved.ID}))

	return saved, nil
}

func (o *Orchestrator) ensureInstance(ctx context.Context, instanceID uint) error {
	var count int64
	if err := o.db.WithContext(ctx).Model(&models.Instance{}).Where("id = ?", instanceID).Count(&count).Error; err != nil {
		return errors.Wrapf(err, "find instance %d", instanceID)
	}
	if count == 0 {
		return ErrInstanceNotFound
	}
	return nil
}
