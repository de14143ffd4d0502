package problem

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates the problem tables and the indexes behind ListOpen and
// ListAssigned. The statements are valid on both postgres and sqlite.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&Problem{}, &Event{}); err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_problems_open on problems(category, created_at desc) where status = 'open';`,
		`create index if not exists idx_problems_assignee on problems(assigned_to, created_at desc);`,
		`create index if not exists idx_problem_events_problem on problem_events(problem_id, id);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}
