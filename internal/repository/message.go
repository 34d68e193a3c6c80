package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
)

const messageCols = `id, username, type, text, reply_to, client_id, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// scanMessage сканирует строку в model.Message (порядок соответствует messageCols).
func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var reply []byte
	if err := s.Scan(&m.ID, &m.Username, &m.Kind, &m.Text, &reply, &m.ClientID, &m.Timestamp); err != nil {
		return err
	}
	if len(reply) > 0 {
		m.ReplyTo = &model.ReplyRef{}
		if err := json.Unmarshal(reply, m.ReplyTo); err != nil {
			return fmt.Errorf("reply_to: %w", err)
		}
	}
	return nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	var reply []byte
	if m.ReplyTo != nil {
		b, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return fmt.Errorf("msgRepo.Create: %w", err)
		}
		reply = b
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (`+messageCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Username, m.Kind, m.Text, reply, m.ClientID, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// MarkDeleted заменяет содержимое плейсхолдером; строка остаётся, чтобы пагинация не сдвигалась.
func (r *MessageRepository) MarkDeleted(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.MarkDeleted", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET type = $1, text = $2 WHERE id = $3`,
		model.KindDeleted, model.DeletedPlaceholder, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkDeleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) Page(ctx context.Context, n, size int) ([]model.Message, bool, error) {
	defer logger.DeferLogDuration("msg.Page", time.Now())()
	offset := pageBounds(n, size)
	// Берём на одну строку больше, чтобы узнать, есть ли более старые сообщения.
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $1 OFFSET $2`, size+1, offset,
	)
	if err != nil {
		return nil, false, fmt.Errorf("msgRepo.Page query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, size+1)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, false, fmt.Errorf("msgRepo.Page scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("msgRepo.Page rows: %w", err)
	}
	hasMore := len(msgs) > size
	if hasMore {
		msgs = msgs[:size]
	}
	reverse(msgs)
	return msgs, hasMore, nil
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
