package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CRMLead maps the CRM's leads table.
type CRMLead struct {
	ID        string  `gorm:"column:id;primaryKey"`
	FirstName string  `gorm:"column:first_name"`
	LastName  string  `gorm:"column:last_name"`
	Company   string  `gorm:"column:company"`
	Position  string  `gorm:"column:position"`
	Email     string  `gorm:"column:email;index"`
	Phone     string  `gorm:"column:phone"`
	Industry  string  `gorm:"column:industry"`
	Score     float64 `gorm:"column:score"`
	Interest  string  `gorm:"column:interest"`
	Cohort    string  `gorm:"column:cohort"`
}

// TableName overrides the default pluralized name.
func (CRMLead) TableName() string { return "leads" }

func (c CRMLead) toModel() *models.Lead {
	return &models.Lead{
		ID:       c.ID,
		Name:     strings.TrimSpace(c.FirstName + " " + c.LastName),
		Company:  c.Company,
		Title:    c.Position,
		Email:    c.Email,
		Phone:    c.Phone,
		Industry: c.Industry,
		Score:    c.Score,
		Interest: c.Interest,
		Cohort:   c.Cohort,
	}
}

// GormDirectory reads leads from the CRM database through gorm.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory opens a Postgres connection for lead lookups.
func NewGormDirectory(dsn string) (*GormDirectory, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open lead directory: %w", err)
	}
	return &GormDirectory{db: db}, nil
}

// NewGormDirectoryFromDB wraps an existing gorm handle.
func NewGormDirectoryFromDB(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	var row CRMLead
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrLeadNotFound
		}
		return nil, fmt.Errorf("lookup lead %s: %w", id, err)
	}
	return row.toModel(), nil
}

// Close releases the underlying connection pool.
func (d *GormDirectory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
