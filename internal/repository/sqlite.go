package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/untibullet/fixit/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteRepository реализует Repository поверх modernc.org/sqlite (без CGO).
// Используется для локального запуска и в тестах.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite открывает (или создает) базу SQLite по указанному пути
func NewSQLite(dbPath string) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite допускает только одного писателя
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Migrate применяет встроенные миграции
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var count int
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", m.name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if count > 0 {
			continue
		}
		if _, err := r.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := r.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", m.name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Close закрывает соединение с базой
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders возвращает "?, ?, ?" для n аргументов
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// --- Users ---

const userColumns = `id, email, password_hash, first_name, last_name, employee_id, department, role,
	availability, issues_resolved, points, rating, rating_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, u *models.User) error {
	return row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.EmployeeID,
		&u.Department, &u.Role, &u.Availability, &u.Contributions.IssuesResolved,
		&u.Contributions.Points, &u.Contributions.Rating, &u.Contributions.RatingCount,
		&u.CreatedAt, &u.UpdatedAt)
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *models.User) error {
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
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	skills, err := normalizeSkillSet(u.Skills)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.EmployeeID, u.Department, u.Role,
		u.Availability, u.Contributions.IssuesResolved, u.Contributions.Points,
		u.Contributions.Rating, u.Contributions.RatingCount, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	if err := insertSkillsTx(ctx, tx, u.ID, skills); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	u.Skills = skills
	return nil
}

func insertSkillsTx(ctx context.Context, tx *sql.Tx, userID string, skills []models.Skill) error {
	for _, s := range skills {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_skills (user_id, name, level, verified) VALUES (?, ?, ?, ?)`,
			userID, s.Name, string(s.Level), boolToInt(s.Verified))
		if err != nil {
			return fmt.Errorf("failed to insert skill: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	return r.getUserWhere(ctx, "id = ?", id)
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUserWhere(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *SQLiteRepository) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg), &u)
	if errors.Is(err, sql.ErrNoRows) {
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

// attachSkills загружает навыки для списка пользователей одним запросом
func (r *SQLiteRepository) attachSkills(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}

	index := make(map[string]int, len(users))
	args := make([]any, 0, len(users))
	for i := range users {
		index[users[i].ID] = i
		users[i].Skills = []models.Skill{}
		args = append(args, users[i].ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, name, level, verified FROM user_skills
		WHERE user_id IN (`+placeholders(len(args))+`) ORDER BY name`, args...)
	if err != nil {
		return fmt.Errorf("failed to get skills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var s models.Skill
		if err := rows.Scan(&userID, &s.Name, &s.Level, &s.Verified); err != nil {
			return fmt.Errorf("failed to scan skill: %w", err)
		}
		if i, ok := index[userID]; ok {
			users[i].Skills = append(users[i].Skills, s)
		}
	}
	return rows.Err()
}

func (r *SQLiteRepository) ListUsers(ctx context.Context, f UserFilter) ([]models.User, error) {
	var where []string
	var args []any

	if f.Search != "" {
		where = append(where, `(LOWER(first_name || ' ' || last_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(employee_id) LIKE ?)`)
		p := likePattern(f.Search)
		args = append(args, p, p, p)
	}
	if f.Department != "" {
		where = append(where, "department = ?")
		args = append(args, f.Department)
	}
	if f.ExcludeID != "" {
		where = append(where, "id != ?")
		args = append(args, f.ExcludeID)
	}
	if len(f.Skills) > 0 {
		skills := models.NormalizeSkills(f.Skills)
		where = append(where, `EXISTS (SELECT 1 FROM user_skills s WHERE s.user_id = users.id AND s.name IN (`+placeholders(len(skills))+`))`)
		for _, s := range skills {
			args = append(args, s)
		}
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY first_name, last_name, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return r.queryUsers(ctx, query, args...)
}

func (r *SQLiteRepository) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

func (r *SQLiteRepository) UpdateProfile(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET first_name = ?, last_name = ?, employee_id = ?, department = ?, updated_at = ?
		WHERE id = ?`,
		u.FirstName, u.LastName, u.EmployeeID, u.Department, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) UpdateAvailability(ctx context.Context, userID, availability string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET availability = ?, updated_at = ? WHERE id = ?`,
		availability, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update availability: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) ReplaceSkills(ctx context.Context, userID string, skills []models.Skill) error {
	normalized, err := normalizeSkillSet(skills)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET updated_at = ? WHERE id = ?`, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_skills WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear skills: %w", err)
	}
	if err := insertSkillsTx(ctx, tx, userID, normalized); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) VerifySkill(ctx context.Context, userID, skillName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_skills SET verified = 1 WHERE user_id = ? AND name = ?`,
		userID, strings.ToLower(strings.TrimSpace(skillName)))
	if err != nil {
		return fmt.Errorf("failed to verify skill: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) TopContributors(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users
		WHERE issues_resolved > 0
		ORDER BY issues_resolved DESC, points DESC, rating DESC, id
		LIMIT ?`, limit)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Issues ---

const issueColumns = `id, title, description, category, priority, status, required_skills, tags,
	building, floor, room, owner_id, assignee_id, solved_by, solution, points_awarded, solved_at,
	created_at, updated_at,
	(SELECT COUNT(*) FROM issue_votes v WHERE v.issue_id = issues.id AND v.up = 1),
	(SELECT COUNT(*) FROM issue_votes v WHERE v.issue_id = issues.id AND v.up = 0)`

func scanIssue(row rowScanner, i *models.Issue) error {
	var skillsJSON, tagsJSON string
	var assignee, solvedBy, solution sql.NullString
	var points sql.NullInt64
	var solvedAt sql.NullTime

	err := row.Scan(&i.ID, &i.Title, &i.Description, &i.Category, &i.Priority, &i.Status,
		&skillsJSON, &tagsJSON, &i.Location.Building, &i.Location.Floor, &i.Location.Room,
		&i.OwnerID, &assignee, &solvedBy, &solution, &points, &solvedAt,
		&i.CreatedAt, &i.UpdatedAt, &i.Upvotes, &i.Downvotes)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(skillsJSON), &i.RequiredSkills); err != nil {
		return fmt.Errorf("decode required skills: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &i.Tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	if assignee.Valid {
		i.AssigneeID = &assignee.String
	}
	if solvedBy.Valid {
		i.Resolution = &models.Resolution{
			SolvedBy:      solvedBy.String,
			Solution:      solution.String,
			PointsAwarded: int(points.Int64),
			SolvedAt:      solvedAt.Time,
		}
	}
	i.Comments = []models.Comment{}
	return nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}

func (r *SQLiteRepository) CreateIssue(ctx context.Context, issue *models.Issue) error {
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
	now := time.Now().UTC()
	issue.CreatedAt, issue.UpdatedAt = now, now
	issue.Comments = []models.Comment{}

	skills, err := encodeList(issue.RequiredSkills)
	if err != nil {
		return err
	}
	tags, err := encodeList(issue.Tags)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO issues
		(id, title, description, category, priority, status, required_skills, tags,
		 building, floor, room, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Title, issue.Description, string(issue.Category), string(issue.Priority),
		string(issue.Status), skills, tags, issue.Location.Building, issue.Location.Floor,
		issue.Location.Room, issue.OwnerID, issue.CreatedAt, issue.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if isForeignKeyViolation(err) {
		return ErrInvalidInput
	}
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	var issue models.Issue
	err := scanIssue(r.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id), &issue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, issue_id, author_id, content, created_at FROM issue_comments
		WHERE issue_id = ? ORDER BY created_at, id`, id)
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

func (r *SQLiteRepository) ListIssues(ctx context.Context, f IssueFilter) ([]models.Issue, int, error) {
	f.Normalize()

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Search != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)")
		p := likePattern(f.Search)
		args = append(args, p, p)
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.InvolvedID != "" {
		where = append(where, "(owner_id = ? OR assignee_id = ?)")
		args = append(args, f.InvolvedID, f.InvolvedID)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count issues: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	issues := []models.Issue{}
	for rows.Next() {
		var issue models.Issue
		if err := scanIssue(rows, &issue); err != nil {
			return nil, 0, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return issues, total, nil
}

func (r *SQLiteRepository) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	issue.RequiredSkills = models.NormalizeSkills(issue.RequiredSkills)
	issue.UpdatedAt = time.Now().UTC()

	skills, err := encodeList(issue.RequiredSkills)
	if err != nil {
		return err
	}
	tags, err := encodeList(issue.Tags)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `UPDATE issues SET
		title = ?, description = ?, category = ?, priority = ?, required_skills = ?, tags = ?,
		building = ?, floor = ?, room = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('resolved', 'closed')`,
		issue.Title, issue.Description, string(issue.Category), string(issue.Priority), skills, tags,
		issue.Location.Building, issue.Location.Floor, issue.Location.Room, issue.UpdatedAt, issue.ID)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return r.explainMiss(ctx, issue.ID)
	}
	return nil
}

// explainMiss отличает отсутствующую заявку от заявки, статус которой не
// позволил обновление
func (r *SQLiteRepository) explainMiss(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check issue: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (r *SQLiteRepository) DeleteIssue(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM issues WHERE id = ? AND status NOT IN ('resolved', 'closed')`, id)
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return r.explainMiss(ctx, id)
	}
	return nil
}

func (r *SQLiteRepository) AssignIssue(ctx context.Context, id string, expected models.IssueStatus, assigneeID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE issues SET assignee_id = ?, status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		assigneeID, string(models.StatusAssigned), time.Now().UTC(), id, string(expected))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to assign issue: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return r.explainMiss(ctx, id)
	}
	return nil
}

func (r *SQLiteRepository) TransitionIssue(ctx context.Context, id string, from, to models.IssueStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to change issue status: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return r.explainMiss(ctx, id)
	}
	return nil
}

func (r *SQLiteRepository) ResolveIssue(ctx context.Context, id string, expected models.IssueStatus, res models.Resolution) error {
	if res.SolvedAt.IsZero() {
		res.SolvedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM issues WHERE id = ?`, id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get issue owner: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE issues SET
		status = ?, solved_by = ?, solution = ?, points_awarded = ?, solved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusResolved), res.SolvedBy, res.Solution, res.PointsAwarded, res.SolvedAt,
		res.SolvedAt, id, string(expected))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to resolve issue: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return ErrConflict
	}

	if res.SolvedBy != ownerID {
		result, err = tx.ExecContext(ctx, `UPDATE users SET
			issues_resolved = issues_resolved + 1, points = points + ?, updated_at = ?
			WHERE id = ?`, res.PointsAwarded, res.SolvedAt, res.SolvedBy)
		if err != nil {
			return fmt.Errorf("failed to credit solver: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return ErrInvalidInput
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO issue_comments (id, issue_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.IssueID, c.AuthorID, c.Content, c.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to add comment: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE issues SET updated_at = ? WHERE id = ?`, c.CreatedAt, c.IssueID); err != nil {
		return fmt.Errorf("failed to touch issue: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Vote(ctx context.Context, issueID, userID string, up bool) (int, int, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO issue_votes (issue_id, user_id, up) VALUES (?, ?, ?)
		ON CONFLICT (issue_id, user_id) DO UPDATE SET up = excluded.up`,
		issueID, userID, boolToInt(up))
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("failed to vote: %w", err)
	}

	var upvotes, downvotes int
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(up), 0), COALESCE(SUM(1 - up), 0) FROM issue_votes WHERE issue_id = ?`,
		issueID).Scan(&upvotes, &downvotes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return upvotes, downvotes, nil
}
