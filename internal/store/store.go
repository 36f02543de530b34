// Package store persists questions, their mentor assignment sets and status
// history, and the mentor roster.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/retry"
)

var (
	// ErrNotFound is returned when a question or mentor does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotMember is returned when removing a mentor who is not in the set.
	ErrNotMember = errors.New("store: mentor not in assignment set")
)

// Repository is the storage contract used by the lifecycle engine, the
// schedulers and the bot handlers.
type Repository interface {
	CreateQuestion(ctx context.Context, q *models.Question) error
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	LockQuestion(ctx context.Context, id string) (*models.Question, error)
	UpdateQuestion(ctx context.Context, id string, fields map[string]interface{}) error
	AddToMentorSet(ctx context.Context, id, mentorID string) (bool, error)
	RemoveFromMentorSet(ctx context.Context, id, mentorID string) (int, error)
	ClearMentorSet(ctx context.Context, id string) error
	AppendStatusHistory(ctx context.Context, id, status, actorID string) error
	CompareAndSetStatus(ctx context.Context, id string, from []string, to string, fields map[string]interface{}) (bool, error)
	MarkDispatched(ctx context.Context, id string) (bool, error)
	ListQuestionsByStatus(ctx context.Context, statuses ...string) ([]models.Question, error)

	GetMentor(ctx context.Context, userID string) (*models.Mentor, error)
	ListMentors(ctx context.Context) ([]models.Mentor, error)
	ListAvailableMentors(ctx context.Context) ([]models.Mentor, error)
	UpsertMentor(ctx context.Context, m *models.Mentor) error
	SetMentorAvailability(ctx context.Context, userID, availability string) error
	DeleteMentor(ctx context.Context, userID string) error

	// InTx runs fn inside one database transaction. The Repository passed to
	// fn is bound to that transaction; using the outer Repository inside fn
	// is not allowed.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

// Opts holds parameters for creating a Store.
type Opts struct {
	DB     *gorm.DB
	NodeID int64        // snowflake node, 0..1023
	Retry  retry.Policy // zero value uses retry.RepositoryPolicy(10s)
	Now    func() time.Time
}

// Store implements Repository on gorm.
type Store struct {
	db     *gorm.DB
	ids    *snowflake.Node
	policy retry.Policy
	now    func() time.Time
	inTx   bool
}

var _ Repository = (*Store)(nil)

// New creates a Store.
func New(opts Opts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("store: id generator: %w", err)
	}
	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = retry.RepositoryPolicy(10 * time.Second)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: opts.DB, ids: node, policy: policy, now: now}, nil
}

// run executes fn with retries, or directly when already inside a transaction.
func (s *Store) run(ctx context.Context, fn func(db *gorm.DB) error) error {
	if s.inTx {
		return fn(s.db.WithContext(ctx))
	}
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return fn(s.db.WithContext(ctx))
	})
}

// InTx implements Repository. Transient failures retry the whole transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Store{db: tx, ids: s.ids, policy: s.policy, now: s.now, inTx: true})
		})
	})
}

// NewID returns a fresh question id.
func (s *Store) NewID() string {
	return s.ids.Generate().String()
}

// CreateQuestion inserts q with a generated id (unless already set) and
// records the initial history entry.
func (s *Store) CreateQuestion(ctx context.Context, q *models.Question) error {
	if q.AskerID == "" {
		return fmt.Errorf("store: asker is required")
	}
	if q.ID == "" {
		q.ID = s.NewID()
	}
	if q.Status == "" {
		q.Status = models.StatusWaiting
	}
	if q.ConsultationMode == "" {
		q.ConsultationMode = models.ModeImmediate
	}

	return s.run(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Mentors", "History").Create(q).Error; err != nil {
				return fmt.Errorf("store: create question: %w", err)
			}
			entry := models.StatusEntry{QuestionID: q.ID, Status: q.Status, ActorID: q.AskerID, CreatedAt: s.now()}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("store: initial history for %s: %w", q.ID, err)
			}
			q.History = []models.StatusEntry{entry}
			return nil
		})
	})
}

// GetQuestion loads a question with its assignment set and history.
func (s *Store) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	var q models.Question
	err := s.run(ctx, func(db *gorm.DB) error {
		return db.
			Preload("Mentors", func(db *gorm.DB) *gorm.DB { return db.Order("added_at ASC, mentor_id ASC") }).
			Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
			Where("id = ?", id).First(&q).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: question %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get question %s: %w", id, err)
	}
	return &q, nil
}

// LockQuestion takes a row lock on the question (SELECT ... FOR UPDATE) and
// returns it. Only meaningful inside InTx; concurrent transactions touching
// the same question queue behind the lock until commit. SQLite ignores the
// clause and relies on its single writer.
func (s *Store) LockQuestion(ctx context.Context, id string) (*models.Question, error) {
	err := s.run(ctx, func(db *gorm.DB) error {
		var locked models.Question
		return db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("id = ?", id).First(&locked).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: question %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: lock question %s: %w", id, err)
	}
	return s.GetQuestion(ctx, id)
}

// UpdateQuestion merges fields into the question and refreshes updated_at.
func (s *Store) UpdateQuestion(ctx context.Context, id string, fields map[string]interface{}) error {
	updates := copyFields(fields)
	updates["updated_at"] = s.now()

	return s.run(ctx, func(db *gorm.DB) error {
		result := db.Model(&models.Question{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("store: update question %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return s.mustExist(db, id)
		}
		return nil
	})
}

// CompareAndSetStatus moves the question to status `to` only if its current
// status is one of from, applying fields in the same statement. It reports
// whether the update happened.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, from []string, to string, fields map[string]interface{}) (bool, error) {
	updates := copyFields(fields)
	updates["status"] = to
	updates["updated_at"] = s.now()

	var swapped bool
	err := s.run(ctx, func(db *gorm.DB) error {
		result := db.Model(&models.Question{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("store: set status of %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			swapped = false
			return s.mustExist(db, id)
		}
		swapped = true
		return nil
	})
	return swapped, err
}

// MarkDispatched stamps dispatched_at if it is still unset and the question
// is still waiting. It reports whether this call was the one that stamped it.
func (s *Store) MarkDispatched(ctx context.Context, id string) (bool, error) {
	var marked bool
	err := s.run(ctx, func(db *gorm.DB) error {
		now := s.now()
		result := db.Model(&models.Question{}).
			Where("id = ? AND dispatched_at IS NULL AND status = ?", id, models.StatusWaiting).
			Updates(map[string]interface{}{"dispatched_at": now, "updated_at": now})
		if result.Error != nil {
			return fmt.Errorf("store: mark dispatched %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			marked = false
			return s.mustExist(db, id)
		}
		marked = true
		return nil
	})
	return marked, err
}

// AddToMentorSet inserts mentorID into the assignment set. It reports false
// when the mentor was already a member.
func (s *Store) AddToMentorSet(ctx context.Context, id, mentorID string) (bool, error) {
	var added bool
	err := s.run(ctx, func(db *gorm.DB) error {
		if err := s.mustExist(db, id); err != nil {
			return err
		}
		row := models.QuestionMentor{QuestionID: id, MentorID: mentorID, AddedAt: s.now()}
		result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("store: add mentor %s to %s: %w", mentorID, id, result.Error)
		}
		added = result.RowsAffected > 0
		return s.touch(db, id)
	})
	return added, err
}

// RemoveFromMentorSet deletes mentorID from the assignment set and returns
// the number of members left. ErrNotMember is returned if nothing was removed.
func (s *Store) RemoveFromMentorSet(ctx context.Context, id, mentorID string) (int, error) {
	var remaining int64
	err := s.run(ctx, func(db *gorm.DB) error {
		result := db.Where("question_id = ? AND mentor_id = ?", id, mentorID).Delete(&models.QuestionMentor{})
		if result.Error != nil {
			return fmt.Errorf("store: remove mentor %s from %s: %w", mentorID, id, result.Error)
		}
		if result.RowsAffected == 0 {
			if err := s.mustExist(db, id); err != nil {
				return err
			}
			return fmt.Errorf("store: %s on %s: %w", mentorID, id, ErrNotMember)
		}
		if err := db.Model(&models.QuestionMentor{}).Where("question_id = ?", id).Count(&remaining).Error; err != nil {
			return fmt.Errorf("store: count mentors of %s: %w", id, err)
		}
		return s.touch(db, id)
	})
	return int(remaining), err
}

// ClearMentorSet empties the assignment set.
func (s *Store) ClearMentorSet(ctx context.Context, id string) error {
	return s.run(ctx, func(db *gorm.DB) error {
		if err := db.Where("question_id = ?", id).Delete(&models.QuestionMentor{}).Error; err != nil {
			return fmt.Errorf("store: clear mentors of %s: %w", id, err)
		}
		return nil
	})
}

// AppendStatusHistory appends one history entry.
func (s *Store) AppendStatusHistory(ctx context.Context, id, status, actorID string) error {
	return s.run(ctx, func(db *gorm.DB) error {
		entry := models.StatusEntry{QuestionID: id, Status: status, ActorID: actorID, CreatedAt: s.now()}
		if err := db.Create(&entry).Error; err != nil {
			return fmt.Errorf("store: append history for %s: %w", id, err)
		}
		return nil
	})
}

// ListQuestionsByStatus returns questions in any of the given statuses,
// oldest first. With no statuses it returns every question.
func (s *Store) ListQuestionsByStatus(ctx context.Context, statuses ...string) ([]models.Question, error) {
	var qs []models.Question
	err := s.run(ctx, func(db *gorm.DB) error {
		q := db.Preload("Mentors", func(db *gorm.DB) *gorm.DB { return db.Order("added_at ASC, mentor_id ASC") })
		if len(statuses) > 0 {
			q = q.Where("status IN ?", statuses)
		}
		return q.Order("created_at ASC, id ASC").Find(&qs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store: list questions: %w", err)
	}
	return qs, nil
}

// mustExist returns ErrNotFound if no question has the given id.
func (s *Store) mustExist(db *gorm.DB, id string) error {
	var n int64
	if err := db.Model(&models.Question{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("store: check question %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: question %s: %w", id, ErrNotFound)
	}
	return nil
}

// touch refreshes updated_at after a set mutation.
func (s *Store) touch(db *gorm.DB, id string) error {
	if err := db.Model(&models.Question{}).Where("id = ?", id).Update("updated_at", s.now()).Error; err != nil {
		return fmt.Errorf("store: touch %s: %w", id, err)
	}
	return nil
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	return out
}
