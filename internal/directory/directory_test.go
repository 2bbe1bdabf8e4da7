package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory(models.Lead{ID: "42", Name: "Ada Lovelace"})
	l, err := d.GetLead(context.Background(), "42")
	if err != nil || l.Name != "Ada Lovelace" {
		t.Fatalf("GetLead = %+v, %v", l, err)
	}
	if _, err := d.GetLead(context.Background(), "7"); !errors.Is(err, models.ErrLeadNotFound) {
		t.Errorf("expected ErrLeadNotFound, got %v", err)
	}
	d.Put(models.Lead{ID: "7", Name: "Grace"})
	if _, err := d.GetLead(context.Background(), "7"); err != nil {
		t.Errorf("Put lead not found: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.yaml")
	content := `leads:
  - id: "42"
    name: Ada Lovelace
    company: Analytical Engines
    email: ada@example.com
    phone: "+15550100"
    score: 87.5
    cohort: founders
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	l, err := d.GetLead(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if l.Email != "ada@example.com" || l.Phone != "+15550100" || l.Score != 87.5 || l.Cohort != "founders" {
		t.Errorf("unexpected lead: %+v", l)
	}
}

func TestLoadFileRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.yaml")
	if err := os.WriteFile(path, []byte("leads:\n  - name: nobody\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for lead without id")
	}
}

func TestCRMLeadToModel(t *testing.T) {
	l := CRMLead{ID: "1", FirstName: "Ada", LastName: "Lovelace", Position: "CTO"}.toModel()
	if l.Name != "Ada Lovelace" || l.Title != "CTO" {
		t.Errorf("unexpected mapping: %+v", l)
	}
	if (CRMLead{FirstName: "Cher"}).toModel().Name != "Cher" {
		t.Error("name should be trimmed when last name is empty")
	}
}

func TestGormDirectory(t *testing.T) {
	dsn, ok := syscall.Getenv("DATABASE_URL")
	if !ok || dsn == "" {
		t.Skip("env DATABASE_URL not set")
	}
	d, err := NewGormDirectory(dsn)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer d.Close()
	if err := d.db.AutoMigrate(&CRMLead{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	d.db.Where("id = ?", "dir-test").Delete(&CRMLead{})
	if err := d.db.Create(&CRMLead{ID: "dir-test", FirstName: "Test", Email: "t@example.com"}).Error; err != nil {
		t.Fatalf("Create: %v", err)
	}
	l, err := d.GetLead(context.Background(), "dir-test")
	if err != nil || l.Email != "t@example.com" {
		t.Fatalf("GetLead = %+v, %v", l, err)
	}
	if _, err := d.GetLead(context.Background(), "dir-missing"); !errors.Is(err, models.ErrLeadNotFound) {
		t.Errorf("expected ErrLeadNotFound, got %v", err)
	}
}
