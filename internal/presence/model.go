package presence

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Skills is stored as text[] on postgres and as the same array literal in
// a text column elsewhere.
type Skills []string

func (s Skills) Value() (driver.Value, error) {
	if s == nil {
		s = Skills{}
	}
	return pq.StringArray(s).Value()
}

func (s *Skills) Scan(src any) error {
	var a pq.StringArray
	if err := a.Scan(src); err != nil {
		return err
	}
	*s = Skills(a)
	return nil
}

func (Skills) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Presence is a worker's last reported availability.
type Presence struct {
	WorkerID  string    `gorm:"primaryKey;type:varchar(64)" json:"worker_id"`
	Skills    Skills    `gorm:"not null" json:"skills"`
	Online    bool      `gorm:"not null" json:"online"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Presence) TableName() string { return "worker_presences" }

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&Presence{})
}
