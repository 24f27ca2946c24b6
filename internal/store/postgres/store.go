package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"qrfood/order-service/internal/models"
	"qrfood/order-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const settingsRowID = 1

const orderColumns = `
	id, order_number, table_id, table_number, customer_name, customer_phone, status,
	total_amount::float8, notes, mode, queue_number, tracking_url, created_at, updated_at
`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) IncrementAndGet(ctx context.Context) (int, error) {
	var next int
	row := s.pool.QueryRow(ctx, `
		INSERT INTO settings (id, queue_counter)
		VALUES ($1, 1)
		ON CONFLICT (id)
		DO UPDATE SET queue_counter = settings.queue_counter + 1, updated_at = NOW()
		RETURNING queue_counter
	`, settingsRowID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, queue_counter)
		VALUES ($1, 0)
		ON CONFLICT (id)
		DO UPDATE SET queue_counter = 0, updated_at = NOW()
	`, settingsRowID)
	return err
}

// RecordCounter raises the settings counter to value. It lets an external
// counter leave a floor behind to reseed from.
func (s *Store) RecordCounter(ctx context.Context, value int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE settings
		SET queue_counter = GREATEST(queue_counter, $2), updated_at = NOW()
		WHERE id = $1
	`, settingsRowID, value)
	return err
}

func (s *Store) InsertOrder(ctx context.Context, order models.Order) (models.Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.Items == nil {
		order.Items = []models.OrderItem{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, table_id, table_number, customer_name, customer_phone, status,
			total_amount, notes, mode, queue_number, tracking_url, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, order.ID, order.OrderNumber, nullIfEmpty(order.TableID), nullIfEmpty(order.TableNumber),
		nullIfEmpty(order.CustomerName), nullIfEmpty(order.CustomerPhone), string(order.Status),
		order.TotalAmount, nullIfEmpty(order.Notes), string(order.Mode), order.QueueNumber,
		nullIfEmpty(order.TrackingURL), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return models.Order{}, err
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = order.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, position, menu_item_id, menu_item_name, quantity, price, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, item.OrderID, i, nullIfEmpty(item.MenuItemID), item.MenuItemName, item.Quantity, item.Price, nullIfEmpty(item.Notes))
		if err != nil {
			return models.Order{}, err
		}
	}

	if err = insertOutboxEvent(ctx, tx, store.EventOrderCreated, order); err != nil {
		return models.Order{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// FindByQueueNumber returns the newest market order holding the number.
func (s *Store) FindByQueueNumber(ctx context.Context, queueNumber int) (models.Order, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE mode = 'market' AND queue_number = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, queueNumber)
	return s.loadOne(ctx, row)
}

func (s *Store) FindByID(ctx context.Context, id string) (models.Order, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)
	return s.loadOne(ctx, row)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, updatedAt time.Time) (models.Order, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+orderColumns, id, string(status), updatedAt)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
			_ = tx.Rollback(ctx)
			return models.Order{}, false, nil
		}
		return models.Order{}, false, err
	}

	items, err := loadItems(ctx, tx, []string{order.ID})
	if err != nil {
		return models.Order{}, false, err
	}
	order.Items = itemsFor(items, order.ID)

	if err = insertOutboxEvent(ctx, tx, store.EventOrderStatusChanged, order); err != nil {
		return models.Order{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Order{}, false, err
	}
	return order, true, nil
}

func (s *Store) ListActive(ctx context.Context, mode models.OperationMode) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE mode = $1 AND queue_number IS NOT NULL
			AND status IN ('pending','confirmed','preparing','ready')
		ORDER BY queue_number ASC, created_at ASC
	`, string(mode))
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, rows)
}

func (s *Store) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
	`
	args := []interface{}{}
	if filter.Status != "" {
		query += " WHERE status = $1"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		if len(args) == 1 {
			query += " LIMIT $1"
		} else {
			query += " LIMIT $2"
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, rows)
}

func (s *Store) CountByStatus(ctx context.Context) (map[models.OrderStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.OrderStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[models.OrderStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM orders
		WHERE status IN ('completed','cancelled') AND updated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetSettings(ctx context.Context) (models.Settings, error) {
	var settings models.Settings
	var mode string
	row := s.pool.QueryRow(ctx, `
		SELECT id::text, restaurant_name, operation_mode, currency, enable_queue_system,
			estimated_wait_per_queue, queue_counter, updated_at
		FROM settings
		WHERE id = $1
	`, settingsRowID)
	if err := row.Scan(&settings.ID, &settings.RestaurantName, &mode, &settings.Currency, &settings.EnableQueueSystem,
		&settings.EstimatedWaitPerQueue, &settings.QueueCounter, &settings.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Settings{}, store.ErrSettingsMissing
		}
		return models.Settings{}, err
	}
	settings.OperationMode = models.OperationMode(mode)
	return settings, nil
}

func (s *Store) CreateSession(ctx context.Context, role string, expiresAt time.Time) (store.Session, error) {
	session := store.Session{
		SessionID: uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_sessions (session_id, role, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, session.SessionID, session.Role, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, role, created_at, expires_at
		FROM admin_sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.Role, &session.CreatedAt, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE session_id = $1`, sessionID)
	return err
}

// ClaimEvents leases the oldest unpublished events. Rows of transactions that
// have not committed are invisible here and get claimed on a later run, so a
// late commit with a lower seq is never skipped. SKIP LOCKED keeps concurrent
// relays from claiming the same rows.
func (s *Store) ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_events
		SET claimed_until = NOW() + make_interval(secs => $2)
		WHERE seq IN (
			SELECT seq
			FROM outbox_events
			WHERE published_at IS NULL
				AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY seq ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING seq, event_id, type, payload_json, created_at
	`, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

func (s *Store) MarkPublished(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = NOW(), claimed_until = NULL
		WHERE seq = ANY($1)
	`, seqs)
	return err
}

func (s *Store) ReleaseEvents(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET claimed_until = NULL
		WHERE seq = ANY($1) AND published_at IS NULL
	`, seqs)
	return err
}

func (s *Store) PurgePublished(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE published_at IS NOT NULL AND published_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (s *Store) loadOne(ctx context.Context, row pgx.Row) (models.Order, bool, error) {
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, false, nil
		}
		return models.Order{}, false, err
	}
	items, err := loadItems(ctx, s.pool, []string{order.ID})
	if err != nil {
		return models.Order{}, false, err
	}
	order.Items = itemsFor(items, order.ID)
	return order, true, nil
}

func (s *Store) loadMany(ctx context.Context, rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()

	var orders []models.Order
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, s.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = itemsFor(items, orders[i].ID)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var order models.Order
	var tableIDNull sql.NullString
	var tableNumberNull sql.NullString
	var customerNameNull sql.NullString
	var customerPhoneNull sql.NullString
	var notesNull sql.NullString
	var trackingURLNull sql.NullString
	var queueNumberNull sql.NullInt32
	var status string
	var mode string
	if err := row.Scan(&order.ID, &order.OrderNumber, &tableIDNull, &tableNumberNull, &customerNameNull, &customerPhoneNull,
		&status, &order.TotalAmount, &notesNull, &mode, &queueNumberNull, &trackingURLNull, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return models.Order{}, err
	}
	order.Status = models.OrderStatus(status)
	order.Mode = models.OperationMode(mode)
	order.TableID = tableIDNull.String
	order.TableNumber = tableNumberNull.String
	order.CustomerName = customerNameNull.String
	order.CustomerPhone = customerPhoneNull.String
	order.Notes = notesNull.String
	order.TrackingURL = trackingURLNull.String
	if queueNumberNull.Valid {
		n := int(queueNumberNull.Int32)
		order.QueueNumber = &n
	}
	return order, nil
}

func loadItems(ctx context.Context, q queryer, orderIDs []string) ([]models.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, menu_item_id, menu_item_name, quantity, price::float8, notes
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id ASC, position ASC
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var menuItemIDNull sql.NullString
		var notesNull sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &menuItemIDNull, &item.MenuItemName, &item.Quantity, &item.Price, &notesNull); err != nil {
			return nil, err
		}
		item.MenuItemID = menuItemIDNull.String
		item.Notes = notesNull.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func itemsFor(items []models.OrderItem, orderID string) []models.OrderItem {
	matched := []models.OrderItem{}
	for _, item := range items {
		if item.OrderID == orderID {
			matched = append(matched, item)
		}
	}
	return matched
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, order models.Order) error {
	payload, err := store.NewEventPayload(order)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payload, time.Now().UTC())
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
