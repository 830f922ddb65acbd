package entity

import (
	"time"

	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// Application is a customer application moving through the status workflow
type Application struct {
	ID        string          `json:"id"`
	Reference string          `json:"reference"`
	Title     string          `json:"title"`
	OwnerID   string          `json:"owner_id"`
	Status    workflow.Status `json:"status"`
	RiskScore *int            `json:"risk_score,omitempty"`
	RiskLevel string          `json:"risk_level,omitempty"`
	Documents []Document      `json:"documents,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Document is a file slot attached to an application
type Document struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	Name          string     `json:"name"`
	IsMandatory   bool       `json:"is_mandatory"`
	IsUploaded    bool       `json:"is_uploaded"`
	FilePath      string     `json:"file_path,omitempty"`
	UploadedAt    *time.Time `json:"uploaded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MissingMandatory returns the names of mandatory documents not yet uploaded, in collection order
func (a *Application) MissingMandatory() []string {
	var missing []string
	for _, d := range a.Documents {
		if d.IsMandatory && !d.IsUploaded {
			missing = append(missing, d.Name)
		}
	}
	return missing
}

// IsOwnedBy reports whether the user owns the application
func (a *Application) IsOwnedBy(userID string) bool {
	return a.OwnerID != "" && a.OwnerID == userID
}
