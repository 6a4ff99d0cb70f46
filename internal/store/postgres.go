package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"kanban/api/internal/orderkey"
	"kanban/api/internal/rbac"
)

const (
	uniqueViolation = "23505"

	columnSortKeyConstraint = "board_columns_board_sort_key_uq"
	cardSortKeyConstraint   = "cards_column_sort_key_uq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// translate maps driver errors onto the store's sentinels.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case columnSortKeyConstraint, cardSortKeyConstraint:
			return ErrKeyCollision
		}
	}
	return err
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

const columnFields = `id, board_id, name, sort_key, version, created_at, updated_at`

func scanColumn(row rowScanner) (Column, error) {
	var (
		col Column
		key string
	)
	if err := row.Scan(&col.ID, &col.BoardID, &col.Name, &key, &col.Version, &col.CreatedAt, &col.UpdatedAt); err != nil {
		return Column{}, err
	}
	col.SortKey = orderkey.Key(key)
	return col, nil
}

const cardFields = `id, board_id, column_id, title, description, sort_key, version, created_at, updated_at`

func scanCard(row rowScanner) (Card, error) {
	var (
		card        Card
		description sql.NullString
		key         string
	)
	if err := row.Scan(&card.ID, &card.BoardID, &card.ColumnID, &card.Title, &description, &key, &card.Version, &card.CreatedAt, &card.UpdatedAt); err != nil {
		return Card{}, err
	}
	card.Description = nullableString(description)
	card.SortKey = orderkey.Key(key)
	return card, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, kind Kind, id string) (Entry, error) {
	switch kind {
	case KindColumn:
		col, err := s.GetColumn(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		return col.Entry(), nil
	case KindCard:
		card, err := s.GetCard(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		return card.Entry(), nil
	}
	return Entry{}, ErrNotFound
}

func (s *PostgresStore) ListOrdered(ctx context.Context, kind Kind, parentID string) ([]Entry, error) {
	var query string
	switch kind {
	case KindColumn:
		query = `SELECT id, board_id, board_id, sort_key, version, created_at, updated_at
			FROM board_columns WHERE board_id=$1
			ORDER BY sort_key, created_at, id`
	case KindCard:
		query = `SELECT id, board_id, column_id, sort_key, version, created_at, updated_at
			FROM cards WHERE column_id=$1
			ORDER BY sort_key, created_at, id`
	default:
		return nil, fmt.Errorf("list %s siblings: unknown kind", kind)
	}

	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("list %s siblings: %w", kind, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		entry := Entry{Kind: kind}
		var key string
		if err := rows.Scan(&entry.ID, &entry.BoardID, &entry.ParentID, &key, &entry.Version, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s sibling: %w", kind, err)
		}
		entry.Key = orderkey.Key(key)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s siblings: %w", kind, err)
	}
	return entries, nil
}

// UpdateKey relies on the sort-key unique indexes for collision detection
// and on the version predicate for the fence; both are evaluated by the
// single UPDATE statement.
func (s *PostgresStore) UpdateKey(ctx context.Context, kind Kind, update KeyUpdate) (Entry, error) {
	var (
		row   *sql.Row
		table string
	)
	switch kind {
	case KindColumn:
		table = "board_columns"
		row = s.db.QueryRowContext(ctx, `
			UPDATE board_columns
			SET sort_key=$3, version=version+1, updated_at=NOW()
			WHERE id=$1 AND board_id=$2 AND ($4::BIGINT IS NULL OR version=$4)
			RETURNING `+columnFields,
			update.ID, update.ParentID, string(update.Key), update.ExpectedVersion)
		col, err := scanColumn(row)
		if err == nil {
			return col.Entry(), nil
		}
		return Entry{}, s.explainMiss(ctx, table, update, err)
	case KindCard:
		table = "cards"
		row = s.db.QueryRowContext(ctx, `
			UPDATE cards
			SET column_id=$2, sort_key=$3, version=version+1, updated_at=NOW()
			WHERE id=$1 AND ($4::BIGINT IS NULL OR version=$4)
			RETURNING `+cardFields,
			update.ID, update.ParentID, string(update.Key), update.ExpectedVersion)
		card, err := scanCard(row)
		if err == nil {
			return card.Entry(), nil
		}
		return Entry{}, s.explainMiss(ctx, table, update, err)
	}
	return Entry{}, ErrNotFound
}

// explainMiss tells a missing row from a stale version after a fenced
// UPDATE matched nothing.
func (s *PostgresStore) explainMiss(ctx context.Context, table string, update KeyUpdate, err error) error {
	err = translate(err)
	if !errors.Is(err, ErrNotFound) {
		if errors.Is(err, ErrKeyCollision) {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// target column vanished or belongs to another board
			return ErrNotFound
		}
		return fmt.Errorf("update %s key: %w", table, err)
	}
	if update.ExpectedVersion == nil {
		return ErrNotFound
	}
	query := `SELECT EXISTS(SELECT 1 FROM ` + table + ` WHERE id=$1)`
	args := []any{update.ID}
	if table == "board_columns" && update.ParentID != "" {
		query = `SELECT EXISTS(SELECT 1 FROM board_columns WHERE id=$1 AND board_id=$2)`
		args = append(args, update.ParentID)
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if exists {
		return ErrVersionMismatch
	}
	return ErrNotFound
}

func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) (Board, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Board{}, fmt.Errorf("begin create board: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO boards (id, name, description, owner)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, board.ID, board.Name, board.Description, board.Owner).Scan(&board.CreatedAt, &board.UpdatedAt); err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (board_id, user_id, role, status, invited_by)
		VALUES ($1, $2, $3, $4, $2)
	`, board.ID, board.Owner, string(rbac.RoleAdmin), string(rbac.StatusActive)); err != nil {
		return Board{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Board{}, fmt.Errorf("commit create board: %w", err)
	}
	return board, nil
}

const boardFields = `id, name, description, owner, created_at, updated_at`

func scanBoard(row rowScanner) (Board, error) {
	var (
		board       Board
		description sql.NullString
	)
	if err := row.Scan(&board.ID, &board.Name, &description, &board.Owner, &board.CreatedAt, &board.UpdatedAt); err != nil {
		return Board{}, err
	}
	board.Description = nullableString(description)
	return board, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardFields+` FROM boards WHERE id=$1`, boardID))
	if err != nil {
		return Board{}, translate(err)
	}
	return board, nil
}

func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]BoardSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.name, b.description, b.owner, b.created_at, b.updated_at,
			CASE WHEN b.owner = m.user_id THEN 'admin' ELSE m.role END AS my_role,
			(SELECT COUNT(*) FROM memberships mm WHERE mm.board_id = b.id) AS members_count
		FROM boards b
		JOIN memberships m ON m.board_id = b.id AND m.user_id = $1 AND m.status = 'active'
		ORDER BY b.created_at DESC, b.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]BoardSummary, 0)
	for rows.Next() {
		var (
			item        BoardSummary
			description sql.NullString
			role        string
		)
		if err := rows.Scan(&item.ID, &item.Name, &description, &item.Owner, &item.CreatedAt, &item.UpdatedAt, &role, &item.MembersCount); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		item.Description = nullableString(description)
		item.MyRole = rbac.Role(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID string, content BoardContent) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `
		UPDATE boards
		SET name=COALESCE($2, name), description=COALESCE($3, description), updated_at=NOW()
		WHERE id=$1
		RETURNING `+boardFields,
		boardID, content.Name, content.Description))
	if err != nil {
		if err = translate(err); errors.Is(err, ErrNotFound) {
			return Board{}, err
		}
		return Board{}, fmt.Errorf("update board: %w", err)
	}
	return board, nil
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	return s.deleteByID(ctx, "boards", boardID)
}

func (s *PostgresStore) deleteByID(ctx context.Context, table, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertColumn(ctx context.Context, col Column) (Column, error) {
	inserted, err := scanColumn(s.db.QueryRowContext(ctx, `
		INSERT INTO board_columns (id, board_id, name, sort_key)
		VALUES ($1, $2, $3, $4)
		RETURNING `+columnFields,
		col.ID, col.BoardID, col.Name, string(col.SortKey)))
	if err != nil {
		if err = translate(err); errors.Is(err, ErrKeyCollision) {
			return Column{}, err
		}
		return Column{}, fmt.Errorf("insert column: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	col, err := scanColumn(s.db.QueryRowContext(ctx, `SELECT `+columnFields+` FROM board_columns WHERE id=$1`, columnID))
	if err != nil {
		return Column{}, translate(err)
	}
	return col, nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columnFields+`
		FROM board_columns
		WHERE board_id=$1
		ORDER BY sort_key, created_at, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	items := make([]Column, 0)
	for rows.Next() {
		col, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		items = append(items, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameColumn(ctx context.Context, columnID, name string, expectedVersion *int64) (Column, error) {
	col, err := scanColumn(s.db.QueryRowContext(ctx, `
		UPDATE board_columns
		SET name=$2, version=version+1, updated_at=NOW()
		WHERE id=$1 AND ($3::BIGINT IS NULL OR version=$3)
		RETURNING `+columnFields,
		columnID, name, expectedVersion))
	if err != nil {
		return Column{}, s.explainMiss(ctx, "board_columns", KeyUpdate{ID: columnID, ExpectedVersion: expectedVersion}, err)
	}
	return col, nil
}

func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID string) error {
	return s.deleteByID(ctx, "board_columns", columnID)
}

func (s *PostgresStore) InsertCard(ctx context.Context, card Card) (Card, error) {
	inserted, err := scanCard(s.db.QueryRowContext(ctx, `
		INSERT INTO cards (id, board_id, column_id, title, description, sort_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+cardFields,
		card.ID, card.BoardID, card.ColumnID, card.Title, card.Description, string(card.SortKey)))
	if err != nil {
		if err = translate(err); errors.Is(err, ErrKeyCollision) {
			return Card{}, err
		}
		return Card{}, fmt.Errorf("insert card: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	card, err := scanCard(s.db.QueryRowContext(ctx, `SELECT `+cardFields+` FROM cards WHERE id=$1`, cardID))
	if err != nil {
		return Card{}, translate(err)
	}
	return card, nil
}

func (s *PostgresStore) ListBoardCards(ctx context.Context, boardID string) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.board_id, c.column_id, c.title, c.description, c.sort_key, c.version, c.created_at, c.updated_at
		FROM cards c
		JOIN board_columns col ON col.id = c.column_id
		WHERE c.board_id=$1
		ORDER BY col.sort_key, col.created_at, col.id, c.sort_key, c.created_at, c.id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCardContent(ctx context.Context, cardID string, content CardContent, expectedVersion *int64) (Card, error) {
	card, err := scanCard(s.db.QueryRowContext(ctx, `
		UPDATE cards
		SET title=COALESCE($2, title), description=COALESCE($3, description), version=version+1, updated_at=NOW()
		WHERE id=$1 AND ($4::BIGINT IS NULL OR version=$4)
		RETURNING `+cardFields,
		cardID, content.Title, content.Description, expectedVersion))
	if err != nil {
		return Card{}, s.explainMiss(ctx, "cards", KeyUpdate{ID: cardID, ExpectedVersion: expectedVersion}, err)
	}
	return card, nil
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	return s.deleteByID(ctx, "cards", cardID)
}

const membershipFields = `board_id, user_id, role, status, invited_by, created_at, updated_at`

func scanMembership(row rowScanner) (Membership, error) {
	var (
		m      Membership
		role   string
		status string
	)
	if err := row.Scan(&m.BoardID, &m.UserID, &role, &status, &m.InvitedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Membership{}, err
	}
	m.Role = rbac.Role(role)
	m.Status = rbac.Status(status)
	return m, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, boardID, userID string) (Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		SELECT `+membershipFields+` FROM memberships WHERE board_id=$1 AND user_id=$2
	`, boardID, userID))
	if err != nil {
		return Membership{}, translate(err)
	}
	return m, nil
}

func (s *PostgresStore) AddMembership(ctx context.Context, m Membership) (Membership, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (board_id, user_id, role, status, invited_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (board_id, user_id) DO NOTHING
	`, m.BoardID, m.UserID, string(m.Role), string(m.Status), m.InvitedBy); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Membership{}, ErrNotFound
		}
		return Membership{}, fmt.Errorf("insert membership: %w", err)
	}
	return s.GetMembership(ctx, m.BoardID, m.UserID)
}

func (s *PostgresStore) ListMemberships(ctx context.Context, boardID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipFields+`
		FROM memberships
		WHERE board_id=$1
		ORDER BY created_at, user_id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertInvitation(ctx context.Context, inv Invitation) (Invitation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (id, board_id, email, role, status, token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, inv.ID, inv.BoardID, inv.Email, string(inv.Role), inv.Status, inv.Token).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Invitation{}, ErrNotFound
		}
		return Invitation{}, fmt.Errorf("insert invitation: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) BoardOwner(ctx context.Context, boardID string) (string, bool, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner FROM boards WHERE id=$1`, boardID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read board owner: %w", err)
	}
	return owner, true, nil
}

func (s *PostgresStore) MemberRole(ctx context.Context, boardID, userID string) (rbac.Role, rbac.Status, bool, error) {
	var role, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT role, status FROM memberships WHERE board_id=$1 AND user_id=$2
	`, boardID, userID).Scan(&role, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("read membership role: %w", err)
	}
	return rbac.Role(role), rbac.Status(status), true, nil
}
