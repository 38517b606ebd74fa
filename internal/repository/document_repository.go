package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"pricing-service/internal/entity"
	"pricing-service/internal/tenant"
	"time"
)

var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository persists invoices and quotes with their priced lines.
type DocumentRepository struct {
	router *tenant.Router
}

// NewDocumentRepository creates a new instance of DocumentRepository.
func NewDocumentRepository(router *tenant.Router) *DocumentRepository {
	return &DocumentRepository{router: router}
}

func (r *DocumentRepository) command(ctx context.Context, tx *sql.Tx) (sqlCommand, error) {
	if tx != nil {
		return tx, nil
	}
	return r.router.DB(ctx)
}

// BeginTx starts a transaction on the tenant database of ctx.
func (r *DocumentRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	db, err := r.router.DB(ctx)
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx, nil)
}

func (r *DocumentRepository) CommitTx(ctx context.Context, tx *sql.Tx) error {
	return tx.Commit()
}

func (r *DocumentRepository) Rollback(ctx context.Context, tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Save inserts a new document and its lines.
func (r *DocumentRepository) Save(ctx context.Context, doc *entity.Document, tx *sql.Tx) error {
	cmd, err := r.command(ctx, tx)
	if err != nil {
		return err
	}

	clientTags, appliedRuleIDs, err := documentJSON(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `INSERT INTO documents (store_id, kind, status, client_id, client_type, client_tags,
		subtotal, discount_total, total, applied_rule_ids, created_at, updated_at, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := cmd.ExecContext(ctx, query, doc.StoreID, doc.Kind, doc.Status, doc.Client.ClientID, doc.Client.ClientType, clientTags,
		doc.Subtotal, doc.DiscountTotal, doc.Total, appliedRuleIDs, now, now, doc.FinalizedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if err := insertLines(ctx, cmd, id, doc.Lines); err != nil {
		return err
	}

	doc.ID = id
	doc.CreatedAt, doc.UpdatedAt = now, now
	return nil
}

// Update rewrites the header and replaces the lines of an existing document.
func (r *DocumentRepository) Update(ctx context.Context, doc *entity.Document, tx *sql.Tx) error {
	cmd, err := r.command(ctx, tx)
	if err != nil {
		return err
	}

	clientTags, appliedRuleIDs, err := documentJSON(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE documents SET status = ?, client_id = ?, client_type = ?, client_tags = ?,
		subtotal = ?, discount_total = ?, total = ?, applied_rule_ids = ?, updated_at = ?, finalized_at = ?
		WHERE id = ? AND store_id = ?`
	_, err = cmd.ExecContext(ctx, query, doc.Status, doc.Client.ClientID, doc.Client.ClientType, clientTags,
		doc.Subtotal, doc.DiscountTotal, doc.Total, appliedRuleIDs, now, doc.FinalizedAt, doc.ID, doc.StoreID)
	if err != nil {
		return err
	}

	// Delete existing lines
	if _, err := cmd.ExecContext(ctx, `DELETE FROM document_lines WHERE document_id = ?`, doc.ID); err != nil {
		return err
	}
	if err := insertLines(ctx, cmd, doc.ID, doc.Lines); err != nil {
		return err
	}

	doc.UpdatedAt = now
	return nil
}

func insertLines(ctx context.Context, cmd sqlCommand, documentID int64, lines []entity.AdjustedLineItem) error {
	if len(lines) == 0 {
		return nil
	}

	// Insert lines with batch
	query := `INSERT INTO document_lines (document_id, line_no, product_id, sku, category_id, category_name, tags,
		quantity, unit_price, adjusted_unit_price, discount_amount, line_total, applied_rule_id, applied_rule_code)
		VALUES `
	var values []interface{}
	for i, line := range lines {
		tags, err := json.Marshal(nonNilStrings(line.Tags))
		if err != nil {
			return err
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
		values = append(values, documentID, i+1, line.ProductID, line.SKU, line.CategoryID, line.CategoryName, string(tags),
			line.Quantity, line.BasePrice, line.AdjustedUnitPrice, line.DiscountAmount, line.LineTotal, line.AppliedRuleID, line.AppliedRuleCode)
	}

	// Remove the trailing comma
	query = query[:len(query)-1]

	_, err := cmd.ExecContext(ctx, query, values...)
	return err
}

// FindByID loads a document of a store with its lines.
func (r *DocumentRepository) FindByID(ctx context.Context, storeID, id int64, tx *sql.Tx) (*entity.Document, error) {
	return r.find(ctx, storeID, id, tx, false)
}

// FindByIDForUpdate is FindByID holding a row lock on the document until tx ends.
func (r *DocumentRepository) FindByIDForUpdate(ctx context.Context, storeID, id int64, tx *sql.Tx) (*entity.Document, error) {
	if tx == nil {
		return nil, errors.New("FindByIDForUpdate requires a transaction")
	}
	return r.find(ctx, storeID, id, tx, true)
}

func (r *DocumentRepository) find(ctx context.Context, storeID, id int64, tx *sql.Tx, lock bool) (*entity.Document, error) {
	cmd, err := r.command(ctx, tx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, store_id, kind, status, client_id, client_type, client_tags, subtotal, discount_total, total,
		applied_rule_ids, created_at, updated_at, finalized_at
		FROM documents WHERE id = ? AND store_id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		doc                        entity.Document
		clientID                   sql.NullInt64
		clientType                 sql.NullString
		clientTags, appliedRuleIDs sql.NullString
		finalizedAt                sql.NullTime
	)
	err = cmd.QueryRowContext(ctx, query, id, storeID).Scan(&doc.ID, &doc.StoreID, &doc.Kind, &doc.Status, &clientID, &clientType,
		&clientTags, &doc.Subtotal, &doc.DiscountTotal, &doc.Total, &appliedRuleIDs, &doc.CreatedAt, &doc.UpdatedAt, &finalizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
		}
		return nil, err
	}
	if clientID.Valid {
		doc.Client.ClientID = &clientID.Int64
	}
	doc.Client.ClientType = clientType.String
	doc.FinalizedAt = timePtr(finalizedAt)
	if err := unmarshalList(clientTags, &doc.Client.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalList(appliedRuleIDs, &doc.AppliedRuleIDs); err != nil {
		return nil, err
	}

	rows, err := cmd.QueryContext(ctx, `SELECT product_id, sku, category_id, category_name, tags, quantity, unit_price,
		adjusted_unit_price, discount_amount, line_total, applied_rule_id, applied_rule_code
		FROM document_lines WHERE document_id = ? ORDER BY line_no`, doc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line          entity.AdjustedLineItem
			categoryID    sql.NullInt64
			appliedRuleID sql.NullInt64
			tags          sql.NullString
			ruleCode      sql.NullString
		)
		if err := rows.Scan(&line.ProductID, &line.SKU, &categoryID, &line.CategoryName, &tags, &line.Quantity, &line.BasePrice,
			&line.AdjustedUnitPrice, &line.DiscountAmount, &line.LineTotal, &appliedRuleID, &ruleCode); err != nil {
			return nil, err
		}
		line.UnitPrice = line.BasePrice
		if categoryID.Valid {
			line.CategoryID = &categoryID.Int64
		}
		if appliedRuleID.Valid {
			line.AppliedRuleID = &appliedRuleID.Int64
		}
		line.AppliedRuleCode = ruleCode.String
		if err := unmarshalList(tags, &line.Tags); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func documentJSON(doc *entity.Document) (clientTags, appliedRuleIDs string, err error) {
	tags, err := json.Marshal(nonNilStrings(doc.Client.Tags))
	if err != nil {
		return "", "", err
	}
	ids := doc.AppliedRuleIDs
	if ids == nil {
		ids = []int64{}
	}
	applied, err := json.Marshal(ids)
	if err != nil {
		return "", "", err
	}
	return string(tags), string(applied), nil
}

func unmarshalList(raw sql.NullString, dest interface{}) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

func nonNilStrings(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
