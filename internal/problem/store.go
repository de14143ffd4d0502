package problem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ezywork/internal/logging"
	"ezywork/internal/metrics"
	"ezywork/internal/notifier"
)

var (
	ErrNotFound = errors.New("problem not found")
	ErrConflict = errors.New("problem already assigned or closed")
	ErrInvalid  = errors.New("invalid problem")
)

// Publisher fans an event out to a category channel.
type Publisher interface {
	Publish(ctx context.Context, category string, ev notifier.Event) error
}

type Store struct {
	DB        *gorm.DB
	Publisher Publisher
	Log       *slog.Logger
	Metrics   metrics.Recorder
	Now       func() time.Time

	order categoryLocks
}

// categoryLocks serializes commit and broadcast per category so a channel
// sees new problems in creation order.
type categoryLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *categoryLocks) lock(category string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[category]
	if !ok {
		m = &sync.Mutex{}
		l.locks[category] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

type CreateInput struct {
	Title       string
	Description string
	Category    string
	Location    Location
	CreatedBy   string
}

func (in *CreateInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.Location.City = strings.TrimSpace(in.Location.City)
	in.Location.Address = strings.TrimSpace(in.Location.Address)
}

func (in CreateInput) validate() error {
	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case in.Description == "":
		return fmt.Errorf("%w: description is required", ErrInvalid)
	case in.Category == "":
		return fmt.Errorf("%w: category is required", ErrInvalid)
	case in.CreatedBy == "":
		return fmt.Errorf("%w: created_by is required", ErrInvalid)
	}
	if lat := in.Location.Latitude; lat != nil && (*lat < -90 || *lat > 90) {
		return fmt.Errorf("%w: latitude out of range", ErrInvalid)
	}
	if lng := in.Location.Longitude; lng != nil && (*lng < -180 || *lng > 180) {
		return fmt.Errorf("%w: longitude out of range", ErrInvalid)
	}
	return nil
}

// Create persists an open problem and announces it on its category
// channel. A failed announcement is logged; the problem stays open and
// listable.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Problem, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	unlock := s.order.lock(in.Category)
	defer unlock()

	now := s.now()
	p := Problem{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Location:    in.Location,
		Status:      StatusOpen,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		return insertEvent(tx, p.ID, EventCreated, p.CreatedBy, StatusOpen, now)
	})
	if err != nil {
		return nil, fmt.Errorf("create problem: %w", err)
	}

	s.metrics().ProblemCreated(p.Category)
	s.log().Info("problem created", "problem", p.ID, "category", p.Category, "created_by", p.CreatedBy)
	s.publish(ctx, notifier.EventNewProblem, &p)
	return &p, nil
}

// ListOpen returns open problems, newest first, optionally restricted to
// one category.
func (s *Store) ListOpen(ctx context.Context, category string) ([]Problem, error) {
	q := s.DB.WithContext(ctx).Where("status = ?", StatusOpen)
	if c := strings.TrimSpace(category); c != "" {
		q = q.Where("category = ?", c)
	}

	rows := []Problem{}
	if err := q.Order("created_at desc, id desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list open problems: %w", err)
	}
	return rows, nil
}

// ListAssigned returns the problems bound to workerID, newest first.
func (s *Store) ListAssigned(ctx context.Context, workerID string) ([]Problem, error) {
	rows := []Problem{}
	err := s.DB.WithContext(ctx).
		Where("assigned_to = ? AND status IN ?", strings.TrimSpace(workerID), []Status{StatusAssigned, StatusCompleted}).
		Order("created_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list assigned problems: %w", err)
	}
	return rows, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Problem, error) {
	var p Problem
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get problem %s: %w", id, err)
	}
	return &p, nil
}

// Timeline returns the status history of a problem, oldest first.
func (s *Store) Timeline(ctx context.Context, id string) ([]Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	evs := []Event{}
	if err := s.DB.WithContext(ctx).Where("problem_id = ?", id).Order("id asc").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("problem timeline %s: %w", id, err)
	}
	return evs, nil
}

// Accept binds workerID to an open problem. Exactly one caller wins: the
// status check and the write are a single conditional update. Losers get
// ErrConflict and should not retry.
func (s *Store) Accept(ctx context.Context, id, workerID string) (*Problem, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}

	p, err := s.transition(ctx, id, transition{
		from:  []Status{StatusOpen},
		to:    StatusAssigned,
		set:   map[string]any{"assigned_to": workerID},
		actor: workerID,
		event: EventAssigned,
	})
	switch {
	case err == nil:
		s.metrics().AcceptResult(metrics.AcceptWon)
	case errors.Is(err, ErrConflict):
		s.metrics().AcceptResult(metrics.AcceptConflict)
		return nil, err
	case errors.Is(err, ErrNotFound):
		s.metrics().AcceptResult(metrics.AcceptNotFound)
		return nil, err
	default:
		s.metrics().AcceptResult(metrics.AcceptError)
		return nil, err
	}

	s.log().Info("problem accepted", "problem", p.ID, "worker", workerID)
	s.publish(ctx, notifier.EventProblemAssigned, p)
	return p, nil
}

// Complete closes an assigned problem. Only the assigned worker can
// complete it.
func (s *Store) Complete(ctx context.Context, id, workerID string) (*Problem, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}

	p, err := s.transition(ctx, id, transition{
		from:  []Status{StatusAssigned},
		to:    StatusCompleted,
		where: []cond{{"assigned_to = ?", []any{workerID}}},
		actor: workerID,
		event: EventCompleted,
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("problem completed", "problem", p.ID, "worker", workerID)
	return p, nil
}

// Cancel withdraws an open or assigned problem on behalf of its creator.
// The assignee is cleared.
func (s *Store) Cancel(ctx context.Context, id, customerID string) (*Problem, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer_id is required", ErrInvalid)
	}

	p, err := s.transition(ctx, id, transition{
		from:  []Status{StatusOpen, StatusAssigned},
		to:    StatusCancelled,
		where: []cond{{"created_by = ?", []any{customerID}}},
		set:   map[string]any{"assigned_to": nil},
		actor: customerID,
		event: EventCancelled,
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("problem cancelled", "problem", p.ID, "customer", customerID)
	s.publish(ctx, notifier.EventProblemCancelled, p)
	return p, nil
}

type cond struct {
	query string
	args  []any
}

type transition struct {
	from  []Status
	to    Status
	where []cond
	set   map[string]any
	actor string
	event string
}

// transition applies "set status=to WHERE id AND status IN from AND where"
// as one statement. When nothing matched it tells a missing row apart from
// one in the wrong state.
func (s *Store) transition(ctx context.Context, id string, tr transition) (*Problem, error) {
	now := s.now()
	updates := map[string]any{
		"status":     tr.to,
		"updated_at": now,
	}
	for k, v := range tr.set {
		updates[k] = v
	}

	var p Problem
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&Problem{}).Where("id = ? AND status IN ?", id, tr.from)
		for _, c := range tr.where {
			q = q.Where(c.query, c.args...)
		}
		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&Problem{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}

		if err := insertEvent(tx, id, tr.event, tr.actor, tr.to, now); err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&p).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%s problem %s: %w", strings.ToLower(tr.event), id, err)
	}
	return &p, nil
}

func insertEvent(tx *gorm.DB, problemID, typ, actor string, status Status, at time.Time) error {
	ev := Event{
		ProblemID: problemID,
		Type:      typ,
		ActorID:   actor,
		Status:    status,
		CreatedAt: at,
	}
	return tx.Create(&ev).Error
}

// publish announces p on its category channel. Transitions take the
// category lock too, so a follow-up never overtakes the new-problem event
// of a create that is still broadcasting.
func (s *Store) publish(ctx context.Context, typ string, p *Problem) {
	if s.Publisher == nil {
		return
	}
	if typ != notifier.EventNewProblem {
		unlock := s.order.lock(p.Category)
		defer unlock()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		s.log().Error("encode problem event", "problem", p.ID, "err", err)
		return
	}
	ev := notifier.Event{Type: typ, Category: p.Category, Problem: payload}
	if err := s.Publisher.Publish(ctx, p.Category, ev); err != nil {
		s.log().Warn("broadcast failed", "type", typ, "problem", p.ID, "category", p.Category, "err", err)
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logging.Discard()
}

func (s *Store) metrics() metrics.Recorder {
	if s.Metrics != nil {
		return s.Metrics
	}
	return metrics.Nop{}
}
