package marketplace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gvirila/portal/channels"
	"github.com/gvirila/portal/dbopen"
	"github.com/gvirila/portal/idgen"
	"github.com/gvirila/portal/observability"
	"github.com/gvirila/portal/safe"
)

// Purchase states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// notifyTimeout bounds the operator notification sent on a paid order.
const notifyTimeout = 10 * time.Second

var (
	ErrDuplicate        = errors.New("marketplace: prompt already purchased with this e-mail")
	ErrPurchaseNotFound = errors.New("marketplace: purchase not found")
	ErrForbidden        = errors.New("marketplace: token does not grant this prompt")
	ErrNotPending       = errors.New("marketplace: purchase is not pending")
	ErrMissingToken     = errors.New("marketplace: access token required")
)

// Purchase is one order of a prompt.
type Purchase struct {
	ID               string `json:"id"`
	PromptID         string `json:"prompt_id"`
	Email            string `json:"email"`
	Name             string `json:"name,omitempty"`
	Phone            string `json:"phone,omitempty"`
	AccessToken      string `json:"-"`
	Status           string `json:"status"`
	Price            int64  `json:"price"`
	NotificationSent bool   `json:"notification_sent"`
	AccessCount      int64  `json:"access_count"`
	FirstAccessedAt  *int64 `json:"first_accessed_at,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	CompletedAt      *int64 `json:"completed_at,omitempty"`
}

// Buyer is the contact data submitted with an order.
type Buyer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// PurchaseResult is returned to the buyer after an order.
type PurchaseResult struct {
	Success     bool   `json:"success"`
	PurchaseID  string `json:"purchaseId"`
	AccessToken string `json:"accessToken,omitempty"`
	Status      string `json:"status"`
	IsFree      bool   `json:"isFree"`
	Message     string `json:"message"`
}

// AccessResult is the answer to an access check. Prompt carries the full
// template when HasAccess is true.
type AccessResult struct {
	HasAccess bool    `json:"hasAccess"`
	Status    string  `json:"status"`
	Prompt    *Prompt `json:"prompt,omitempty"`
}

// Config wires a Service.
type Config struct {
	DB       *sql.DB
	Notifier channels.Notifier      // nil = channels.Nop
	Events   observability.Recorder // nil = Discard
	// BaseURL prefixes the access link put in notifications.
	BaseURL string
}

// Service runs the purchase and access flow.
type Service struct {
	db       *sql.DB
	prompts  *Prompts
	notifier channels.Notifier
	events   observability.Recorder
	baseURL  string
	newID    idgen.Generator
	newToken idgen.Generator
	now      func() time.Time
}

// NewService builds a Service. The database must have Schema applied.
func NewService(cfg Config) *Service {
	s := &Service{
		db:       cfg.DB,
		prompts:  NewPrompts(cfg.DB),
		notifier: cfg.Notifier,
		events:   cfg.Events,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		newID:    idgen.Prefixed("pur_", idgen.Default),
		newToken: idgen.Token(24),
		now:      time.Now,
	}
	if s.notifier == nil {
		s.notifier = channels.Nop
	}
	if s.events == nil {
		s.events = observability.Discard
	}
	return s
}

// Prompts returns the prompt store.
func (s *Service) Prompts() *Prompts { return s.prompts }

// Purchase orders a published prompt for buyer. A free prompt is completed
// at once and its download counter bumped; a paid one stays pending and the
// operator is notified.
func (s *Service) Purchase(ctx context.Context, promptID string, buyer Buyer) (*PurchaseResult, error) {
	email, err := safe.ValidateEmail(buyer.Email)
	if err != nil {
		return nil, err
	}
	prompt, err := s.prompts.GetPublished(ctx, promptID)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	p := &Purchase{
		ID:          s.newID(),
		PromptID:    prompt.ID,
		Email:       email,
		Name:        safe.Truncate(strings.TrimSpace(buyer.Name), 120),
		Phone:       safe.Truncate(strings.TrimSpace(buyer.Phone), 32),
		AccessToken: s.newToken(),
		Status:      StatusPending,
		Price:       prompt.Price,
		CreatedAt:   now,
	}
	if prompt.IsFree() {
		p.Status = StatusCompleted
		p.CompletedAt = &now
	}

	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM purchases
			WHERE prompt_id = ? AND email = ? AND status IN ('pending', 'completed')`,
			p.PromptID, p.Email).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrDuplicate
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO purchases (id, prompt_id, email, name, phone, access_token,
			status, price, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.PromptID, p.Email, p.Name, p.Phone, p.AccessToken,
			p.Status, p.Price, p.CreatedAt, p.CompletedAt)
		if err != nil {
			return err
		}
		if p.Status == StatusCompleted {
			_, err = tx.ExecContext(ctx,
				`UPDATE prompts SET downloads = downloads + 1 WHERE id = ?`, p.PromptID)
		}
		return err
	})
	if errors.Is(err, ErrDuplicate) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("marketplace: purchase: %w", err)
	}

	s.events.Record(ctx, observability.Event{
		Type:       observability.EventPurchaseCreated,
		EntityType: "purchase",
		EntityID:   p.ID,
		Details:    map[string]any{"prompt_id": p.PromptID, "price": p.Price, "status": p.Status},
		Success:    true,
	})

	res := &PurchaseResult{
		Success:     true,
		PurchaseID:  p.ID,
		AccessToken: p.AccessToken,
		Status:      p.Status,
		IsFree:      prompt.IsFree(),
	}
	if prompt.IsFree() {
		res.Message = "პრომპტი თქვენია! შეინახეთ წვდომის ბმული."
		return res, nil
	}
	res.Message = "შეკვეთა მიღებულია. გადახდის დადასტურების შემდეგ წვდომა გააქტიურდება."
	s.notifyOrder(ctx, prompt, p)
	return res, nil
}

// notifyOrder tells the operator about a paid order and records whether
// the message went out. Failures are logged, never returned.
func (s *Service) notifyOrder(ctx context.Context, prompt *Prompt, p *Purchase) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	fields := map[string]string{
		"პრომპტი": prompt.Title,
		"ფასი":    formatPrice(p.Price, prompt.Currency),
		"ელფოსტა": p.Email,
		"შეკვეთა": p.ID,
	}
	if p.Name != "" {
		fields["სახელი"] = p.Name
	}
	if p.Phone != "" {
		fields["ტელეფონი"] = p.Phone
	}
	err := s.notifier.Notify(nctx, channels.Message{
		Event:  observability.EventPurchaseCreated,
		Title:  "🛒 ახალი შეკვეთა",
		Text:   "გადახდის დადასტურების შემდეგ დაადასტურეთ შეკვეთა ადმინ პანელში.",
		Fields: fields,
	})
	if err != nil {
		slog.Warn("marketplace: order notification failed", "error", err, "purchase_id", p.ID)
		s.events.Record(ctx, observability.Event{
			Type:       observability.EventNotificationFailed,
			EntityType: "purchase",
			EntityID:   p.ID,
			Details:    map[string]any{"error": err.Error()},
		})
		return
	}
	if _, err := s.db.ExecContext(nctx,
		`UPDATE purchases SET notification_sent = 1 WHERE id = ?`, p.ID); err != nil {
		slog.Warn("marketplace: record notification", "error", err, "purchase_id", p.ID)
		return
	}
	p.NotificationSent = true
}

// CheckAccess resolves an access token for promptID. The full template is
// returned only for a completed purchase; each successful check bumps the
// access counter, and the first one stamps first_accessed_at (and, for paid
// prompts, counts as the download).
func (s *Service) CheckAccess(ctx context.Context, promptID, token string) (*AccessResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	prompt, err := s.prompts.Get(ctx, promptID)
	if err != nil {
		return nil, err
	}
	p, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if p.PromptID != prompt.ID {
		return nil, ErrForbidden
	}
	if p.Status != StatusCompleted {
		return &AccessResult{HasAccess: false, Status: p.Status}, nil
	}

	now := s.now().UnixMilli()
	var first bool
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		// Only the access that stamps first_accessed_at counts as first.
		res, err := tx.ExecContext(ctx,
			`UPDATE purchases SET first_accessed_at = ?
			WHERE id = ? AND first_accessed_at IS NULL`, now, p.ID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		first = n == 1

		res, err = tx.ExecContext(ctx,
			`UPDATE purchases SET access_count = access_count + 1 WHERE id = ?`, p.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPurchaseNotFound
		}
		if first && p.Price > 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE prompts SET downloads = downloads + 1 WHERE id = ?`, prompt.ID)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("marketplace: record access: %w", err)
	}
	if first {
		s.events.Record(ctx, observability.Event{
			Type:       observability.EventPromptAccessed,
			EntityType: "purchase",
			EntityID:   p.ID,
			Details:    map[string]any{"prompt_id": prompt.ID},
			Success:    true,
		})
	}
	return &AccessResult{HasAccess: true, Status: p.Status, Prompt: prompt}, nil
}

// CompletePurchase marks a pending purchase paid.
func (s *Service) CompletePurchase(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusCompleted)
}

// CancelPurchase cancels a pending purchase. The buyer may order again.
func (s *Service) CancelPurchase(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id, status string) error {
	var completedAt any
	if status == StatusCompleted {
		completedAt = s.now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET status = ?, completed_at = ?
		WHERE id = ? AND status = 'pending'`, status, completedAt, id)
	if err != nil {
		return fmt.Errorf("marketplace: %s purchase: %w", status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetPurchase(ctx, id); err != nil {
			return err
		}
		return ErrNotPending
	}
	if status == StatusCompleted {
		s.events.Record(ctx, observability.Event{
			Type:       observability.EventPurchaseCompleted,
			EntityType: "purchase",
			EntityID:   id,
			Success:    true,
		})
	}
	return nil
}

const purchaseColumns = `id, prompt_id, email, name, phone, access_token, status, price,
	notification_sent, access_count, first_accessed_at, created_at, completed_at`

// GetPurchase returns a purchase by id.
func (s *Service) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPurchaseNotFound
	}
	return p, err
}

func (s *Service) byToken(ctx context.Context, token string) (*Purchase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE access_token = ?`, token)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPurchaseNotFound
	}
	return p, err
}

// ListPurchases returns purchases, newest first. An empty status lists all.
func (s *Service) ListPurchases(ctx context.Context, status string, limit int) ([]*Purchase, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		WHERE ? = '' OR status = ? ORDER BY created_at DESC LIMIT ?`, status, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurchase(sc scanner) (*Purchase, error) {
	var p Purchase
	var first, completed sql.NullInt64
	err := sc.Scan(&p.ID, &p.PromptID, &p.Email, &p.Name, &p.Phone, &p.AccessToken, &p.Status,
		&p.Price, &p.NotificationSent, &p.AccessCount, &first, &p.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if first.Valid {
		p.FirstAccessedAt = &first.Int64
	}
	if completed.Valid {
		p.CompletedAt = &completed.Int64
	}
	return &p, nil
}

// formatPrice renders tetri as "12.50 GEL".
func formatPrice(tetri int64, currency string) string {
	cents := tetri % 100
	s := strconv.FormatInt(tetri/100, 10) + "."
	if cents < 10 {
		s += "0"
	}
	return s + strconv.FormatInt(cents, 10) + " " + currency
}
