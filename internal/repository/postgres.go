package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/untibullet/fixit/internal/models"
)

// PostgresRepository реализует Repository поверх пула pgx
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate применяет встроенные миграции
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var applied bool
		err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, m.name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}
		if _, err := r.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.name, err)
		}
		if _, err := r.pool.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, m.name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Close закрывает пул соединений
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// --- Users ---

// CreateUser создает пользователя вместе с навыками
func (r *PostgresRepository) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Availability == "" {
		u.Availability = models.AvailabilityAvailable
	}

	skills, err := normalizeSkillSet(u.Skills)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, employee_id, department, role, availability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.EmployeeID, u.Department, u.Role, u.Availability,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if isPgCode(err, pgUniqueViolation) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	if err := copySkills(ctx, tx, u.ID, skills); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	u.Skills = skills
	return nil
}

// copySkills массово вставляет навыки пользователя
func copySkills(ctx context.Context, tx pgx.Tx, userID string, skills []models.Skill) error {
	if len(skills) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(skills))
	for _, s := range skills {
		rows = append(rows, []any{userID, s.Name, string(s.Level), s.Verified})
	}
	_, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"user_skills"},
		[]string{"user_id", "name", "level", "verified"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy skills: %w", err)
	}
	return nil
}

const pgUserColumns = `id, email, password_hash, first_name, last_name, employee_id, department, role,
	availability, issues_resolved, points, rating, rating_count, created_at, updated_at`

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	return r.getUserWhere(ctx, "id = $1", id)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUserWhere(ctx, "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (r *PostgresRepository) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := scanUser(r.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE `+where, arg), &u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	users := []models.User{u}
	if err := r.attachSkills(ctx, users); err != nil {
		return nil, err
	}
	return &users[0], nil
}

// attachSkills получает навыки всех пользователей списка одним запросом
func (r *PostgresRepository) attachSkills(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}

	index := make(map[string]int, len(users))
	ids := make([]string, len(users))
	for i := range users {
		index[users[i].ID] = i
		ids[i] = users[i].ID
		users[i].Skills = []models.Skill{}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id, name, level, verified FROM user_skills WHERE user_id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return fmt.Errorf("failed to get skills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, level string
		var s models.Skill
		if err := rows.Scan(&userID, &s.Name, &level, &s.Verified); err != nil {
			return fmt.Errorf("failed to scan skill: %w", err)
		}
		s.Level = models.SkillLevel(level)
		if i, ok := index[userID]; ok {
			users[i].Skills = append(users[i].Skills, s)
		}
	}
	return rows.Err()
}

// ListUsers получает пользователей по фильтру
func (r *PostgresRepository) ListUsers(ctx context.Context, f UserFilter) ([]models.User, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Search != "" {
		p := arg("%" + strings.TrimSpace(f.Search) + "%")
		where = append(where, fmt.Sprintf(`(first_name || ' ' || last_name ILIKE %s OR email ILIKE %s OR employee_id ILIKE %s)`, p, p, p))
	}
	if f.Department != "" {
		where = append(where, "department = "+arg(f.Department))
	}
	if f.ExcludeID != "" {
		where = append(where, "id != "+arg(f.ExcludeID))
	}
	if len(f.Skills) > 0 {
		where = append(where, `EXISTS (SELECT 1 FROM user_skills s WHERE s.user_id = users.id AND s.name = ANY(`+arg(models.NormalizeSkills(f.Skills))+`))`)
	}

	query := `SELECT ` + pgUserColumns + ` FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY first_name, last_name, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	return r.queryUsers(ctx, query, args...)
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := scanUser(rows, &u); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	if err := r.attachSkills(ctx, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, u *models.User) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET first_name = $1, last_name = $2, employee_id = $3, department = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`, u.FirstName, u.LastName, u.EmployeeID, u.Department, u.ID).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateAvailability(ctx context.Context, userID, availability string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET availability = $1, updated_at = NOW() WHERE id = $2`, availability, userID)
	if err != nil {
		return fmt.Errorf("failed to update availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSkills заменяет набор навыков пользователя целиком
func (r *PostgresRepository) ReplaceSkills(ctx context.Context, userID string, skills []models.Skill) error {
	normalized, err := normalizeSkillSet(skills)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE users SET updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM user_skills WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear skills: %w", err)
	}
	if err := copySkills(ctx, tx, userID, normalized); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) VerifySkill(ctx context.Context, userID, skillName string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_skills SET verified = TRUE WHERE user_id = $1 AND name = $2`,
		userID, strings.ToLower(strings.TrimSpace(skillName)))
	if err != nil {
		return fmt.Errorf("failed to verify skill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) TopContributors(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.queryUsers(ctx, `SELECT `+pgUserColumns+` FROM users
		WHERE issues_resolved > 0
		ORDER BY issues_resolved DESC, points DESC, rating DESC, id
		LIMIT $1`, limit)
}

// --- Issues ---

const pgIssueColumns = `id, title, description, category, priority, status, required_skills, tags,
	building, floor, room, owner_id, assignee_id, solved_by, solution, points_awarded, solved_at,
	created_at, updated_at,
	(SELECT COUNT(*) FROM issue_votes v WHERE v.issue_id = issues.id AND v.up),
	(SELECT COUNT(*) FROM issue_votes v WHERE v.issue_id = issues.id AND NOT v.up)`

func scanPgIssue(row pgx.Row, i *models.Issue) error {
	var category, priority, status string
	var solvedBy, solution *string
	var points *int32
	var solvedAt *time.Time

	err := row.Scan(&i.ID, &i.Title, &i.Description, &category, &priority, &status,
		&i.RequiredSkills, &i.Tags, &i.Location.Building, &i.Location.Floor, &i.Location.Room,
		&i.OwnerID, &i.AssigneeID, &solvedBy, &solution, &points, &solvedAt,
		&i.CreatedAt, &i.UpdatedAt, &i.Upvotes, &i.Downvotes)
	if err != nil {
		return err
	}

	i.Category = models.IssueCategory(category)
	i.Priority = models.IssuePriority(priority)
	i.Status = models.IssueStatus(status)
	if solvedBy != nil {
		res := &models.Resolution{SolvedBy: *solvedBy}
		if solution != nil {
			res.Solution = *solution
		}
		if points != nil {
			res.PointsAwarded = int(*points)
		}
		if solvedAt != nil {
			res.SolvedAt = *solvedAt
		}
		i.Resolution = res
	}
	i.Comments = []models.Comment{}
	return nil
}

// CreateIssue создает заявку в статусе open
func (r *PostgresRepository) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = newID()
	}
	issue.RequiredSkills = models.NormalizeSkills(issue.RequiredSkills)
	if issue.Tags == nil {
		issue.Tags = []string{}
	}
	if issue.Status == "" {
		issue.Status = models.StatusOpen
	}
	issue.Comments = []models.Comment{}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO issues (id, title, description, category, priority, status, required_skills, tags,
			building, floor, room, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, issue.ID, issue.Title, issue.Description, string(issue.Category), string(issue.Priority),
		string(issue.Status), issue.RequiredSkills, issue.Tags, issue.Location.Building,
		issue.Location.Floor, issue.Location.Room, issue.OwnerID,
	).Scan(&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return ErrAlreadyExists
		}
		if isPgCode(err, pgForeignKeyViolation) {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

// GetIssue получает заявку вместе с комментариями
func (r *PostgresRepository) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	var issue models.Issue
	err := scanPgIssue(r.pool.QueryRow(ctx, `SELECT `+pgIssueColumns+` FROM issues WHERE id = $1`, id), &issue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, issue_id, author_id, content, created_at
		FROM issue_comments
		WHERE issue_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		issue.Comments = append(issue.Comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}

	return &issue, nil
}

// ListIssues получает страницу заявок и общее число подходящих под фильтр
func (r *PostgresRepository) ListIssues(ctx context.Context, f IssueFilter) ([]models.Issue, int, error) {
	f.Normalize()

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Priority != "" {
		where = append(where, "priority = "+arg(string(f.Priority)))
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(string(f.Category)))
	}
	if f.Search != "" {
		p := arg("%" + strings.TrimSpace(f.Search) + "%")
		where = append(where, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = "+arg(f.OwnerID))
	}
	if f.InvolvedID != "" {
		p := arg(f.InvolvedID)
		where = append(where, fmt.Sprintf("(owner_id = %s OR assignee_id = %s)", p, p))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issues`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count issues: %w", err)
	}

	query := `SELECT ` + pgIssueColumns + ` FROM issues` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	issues := []models.Issue{}
	for rows.Next() {
		var issue models.Issue
		if err := scanPgIssue(rows, &issue); err != nil {
			return nil, 0, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return issues, total, nil
}

// UpdateIssue обновляет редактируемые поля незавершенной заявки
func (r *PostgresRepository) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	issue.RequiredSkills = models.NormalizeSkills(issue.RequiredSkills)
	if issue.Tags == nil {
		issue.Tags = []string{}
	}

	err := r.pool.QueryRow(ctx, `
		UPDATE issues SET title = $1, description = $2, category = $3, priority = $4,
			required_skills = $5, tags = $6, building = $7, floor = $8, room = $9, updated_at = NOW()
		WHERE id = $10 AND status NOT IN ('resolved', 'closed')
		RETURNING updated_at
	`, issue.Title, issue.Description, string(issue.Category), string(issue.Priority),
		issue.RequiredSkills, issue.Tags, issue.Location.Building, issue.Location.Floor,
		issue.Location.Room, issue.ID,
	).Scan(&issue.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.explainMiss(ctx, issue.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}
	return nil
}

// explainMiss отличает отсутствующую заявку от заявки в неподходящем статусе
func (r *PostgresRepository) explainMiss(ctx context.Context, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check issue existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (r *PostgresRepository) DeleteIssue(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM issues WHERE id = $1 AND status NOT IN ('resolved', 'closed')`, id)
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// AssignIssue назначает исполнителя, если статус заявки не изменился
func (r *PostgresRepository) AssignIssue(ctx context.Context, id string, expected models.IssueStatus, assigneeID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE issues SET assignee_id = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, assigneeID, string(models.StatusAssigned), id, string(expected))
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to assign issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

func (r *PostgresRepository) TransitionIssue(ctx context.Context, id string, from, to models.IssueStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE issues SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to change issue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// ResolveIssue фиксирует решение и начисляет очки решившему в одной транзакции
func (r *PostgresRepository) ResolveIssue(ctx context.Context, id string, expected models.IssueStatus, res models.Resolution) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerID string
	var status string
	err = tx.QueryRow(ctx, `SELECT owner_id, status FROM issues WHERE id = $1 FOR UPDATE`, id).Scan(&ownerID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock issue: %w", err)
	}
	if models.IssueStatus(status) != expected {
		return ErrConflict
	}

	_, err = tx.Exec(ctx, `
		UPDATE issues SET status = $1, solved_by = $2, solution = $3, points_awarded = $4,
			solved_at = NOW(), updated_at = NOW()
		WHERE id = $5
	`, string(models.StatusResolved), res.SolvedBy, res.Solution, res.PointsAwarded, id)
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to resolve issue: %w", err)
	}

	if res.SolvedBy != ownerID {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET issues_resolved = issues_resolved + 1, points = points + $1, updated_at = NOW()
			WHERE id = $2
		`, res.PointsAwarded, res.SolvedBy)
		if err != nil {
			return fmt.Errorf("failed to credit solver: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidInput
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = newID()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO issue_comments (id, issue_id, author_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, c.ID, c.IssueID, c.AuthorID, c.Content).Scan(&c.CreatedAt)
	if isPgCode(err, pgForeignKeyViolation) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE issues SET updated_at = NOW() WHERE id = $1`, c.IssueID); err != nil {
		return fmt.Errorf("failed to touch issue: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Vote ставит или меняет голос пользователя и возвращает актуальные счетчики
func (r *PostgresRepository) Vote(ctx context.Context, issueID, userID string, up bool) (int, int, error) {
	var upvotes, downvotes int
	err := r.pool.QueryRow(ctx, `
		WITH v AS (
			INSERT INTO issue_votes (issue_id, user_id, up) VALUES ($1, $2, $3)
			ON CONFLICT (issue_id, user_id) DO UPDATE SET up = excluded.up
		)
		SELECT
			COUNT(*) FILTER (WHERE up AND user_id != $2) + CASE WHEN $3 THEN 1 ELSE 0 END,
			COUNT(*) FILTER (WHERE NOT up AND user_id != $2) + CASE WHEN $3 THEN 0 ELSE 1 END
		FROM issue_votes WHERE issue_id = $1
	`, issueID, userID, up).Scan(&upvotes, &downvotes)
	if isPgCode(err, pgForeignKeyViolation) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to vote: %w", err)
	}
	return upvotes, downvotes, nil
}
