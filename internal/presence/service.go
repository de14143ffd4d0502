package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ezywork/internal/logging"
	"ezywork/internal/notifier"
)

var ErrInvalid = errors.New("invalid presence")

// Announcer carries presence changes to the other server instances.
type Announcer interface {
	AnnouncePresence(ctx context.Context, workerID string) error
}

// Service keeps worker connections subscribed to exactly the channels of
// their skills while the worker is online.
type Service struct {
	DB  *gorm.DB
	Hub *notifier.Hub
	// Peers is nil when this instance is the only one.
	Peers Announcer
	Log   *slog.Logger
	Now   func() time.Time

	// serializes read-latest-then-apply so concurrent updates converge
	mu sync.Mutex
}

// Set records the worker going online or offline. A nil skills slice keeps
// the stored skills.
func (s *Service) Set(ctx context.Context, workerID string, online bool, skills []string) (*Presence, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}

	p := Presence{WorkerID: workerID, Online: online, Skills: Normalize(skills), UpdatedAt: s.now()}
	cols := []string{"online", "updated_at"}
	if skills != nil {
		cols = append(cols, "skills")
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&p).Error
	if err != nil {
		return nil, fmt.Errorf("save presence %s: %w", workerID, err)
	}

	s.log().Info("worker presence", "worker", workerID, "online", online)
	return s.changed(ctx, workerID)
}

// UpdateSkills replaces the worker's skills. Live connections of an online
// worker are resubscribed right away.
func (s *Service) UpdateSkills(ctx context.Context, workerID string, skills []string) (*Presence, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}

	p := Presence{WorkerID: workerID, Skills: Normalize(skills), UpdatedAt: s.now()}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"skills", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return nil, fmt.Errorf("save skills %s: %w", workerID, err)
	}

	s.log().Info("worker skills", "worker", workerID, "skills", p.Skills)
	return s.changed(ctx, workerID)
}

// Get returns the stored presence; an unknown worker is offline with no
// skills.
func (s *Service) Get(ctx context.Context, workerID string) (*Presence, error) {
	var p Presence
	err := s.DB.WithContext(ctx).Where("worker_id = ?", workerID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Presence{WorkerID: workerID, Skills: Skills{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get presence %s: %w", workerID, err)
	}
	return &p, nil
}

// Attach subscribes a freshly opened connection according to the stored
// presence of its worker.
func (s *Service) Attach(ctx context.Context, c *notifier.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Get(ctx, c.Worker())
	if err != nil {
		return err
	}
	s.apply(c, p)
	return nil
}

// changed resyncs local connections and tells the other instances to do
// the same. An announce failure leaves remote connections stale until the
// worker's next change; it is logged, not returned.
func (s *Service) changed(ctx context.Context, workerID string) (*Presence, error) {
	p, err := s.Resync(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if s.Peers != nil {
		if err := s.Peers.AnnouncePresence(ctx, workerID); err != nil {
			s.log().Warn("announce presence failed", "worker", workerID, "err", err)
		}
	}
	return p, nil
}

// Resync subscribes every connection of workerID on this instance to
// exactly the channels its stored presence calls for.
func (s *Service) Resync(ctx context.Context, workerID string) (*Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	for _, c := range s.Hub.ConnsOf(workerID) {
		s.apply(c, p)
	}
	return p, nil
}

func (s *Service) apply(c *notifier.Conn, p *Presence) {
	if p.Online {
		s.Hub.Sync(c, p.Skills)
	} else {
		s.Hub.Sync(c, nil)
	}
	s.log().Debug("connection channels", "conn", c.ID(), "worker", p.WorkerID, "channels", s.Hub.Channels(c))
}

// Normalize trims skills and drops blanks and duplicates, keeping order.
func Normalize(skills []string) Skills {
	out := make(Skills, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, sk := range skills {
		sk = strings.TrimSpace(sk)
		if sk == "" {
			continue
		}
		if _, ok := seen[sk]; ok {
			continue
		}
		seen[sk] = struct{}{}
		out = append(out, sk)
	}
	return out
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logging.Discard()
}
