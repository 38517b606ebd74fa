package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"pricing-service/internal/entity"
	"pricing-service/internal/tenant"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrRuleNotFound      = errors.New("pricing rule not found")
	ErrUsageLimitReached = errors.New("pricing rule usage limit reached")
)

// MySQL errors after which InnoDB has rolled back the statement or the whole
// transaction; the transaction can be run again from the start.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// IsRetryable reports whether err is a lock conflict that a fresh attempt of the
// same transaction may not hit again.
func IsRetryable(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == errDeadlock || mysqlErr.Number == errLockWaitTimeout
}

type sqlCommand interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// UsageClaim asks for one more application of a rule, by a client when ClientID is set.
type UsageClaim struct {
	RuleID           int64
	ClientID         *int64
	PerCustomerLimit *int
}

// RuleRepository handles the interactions with the pricing rule tables of a tenant database.
type RuleRepository struct {
	router *tenant.Router
}

// NewRuleRepository creates a new instance of RuleRepository.
func NewRuleRepository(router *tenant.Router) *RuleRepository {
	return &RuleRepository{router: router}
}

const ruleColumns = `id, store_id, name, rule_code, rule_type, description, priority,
	discount_percentage, discount_amount, fixed_price, buy_quantity, get_quantity, get_discount_percentage,
	is_active, start_date, end_date, usage_limit, usage_limit_per_customer, usage_count, created_at, updated_at`

// FetchActiveRules returns the active rules of a store ordered by priority descending, then name,
// with conditions, targets and tiers loaded.
func (r *RuleRepository) FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM pricing_rules
		WHERE store_id = ? AND is_active = 1
		ORDER BY priority DESC, name ASC, id ASC`
	return r.queryRules(ctx, query, storeID)
}

// ListRules returns every rule of a store, inactive ones included when includeInactive is set.
func (r *RuleRepository) ListRules(ctx context.Context, storeID int64, includeInactive bool) ([]entity.PricingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM pricing_rules WHERE store_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority DESC, name ASC, id ASC`
	return r.queryRules(ctx, query, storeID)
}

// GetRule fetches a single rule of a store with its children.
func (r *RuleRepository) GetRule(ctx context.Context, storeID, id int64) (*entity.PricingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM pricing_rules WHERE store_id = ? AND id = ?`
	rules, err := r.queryRules(ctx, query, storeID, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	return &rules[0], nil
}

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]entity.PricingRule, error) {
	db, err := r.router.DB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []entity.PricingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadChildren(ctx, db, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func scanRule(rows *sql.Rows) (entity.PricingRule, error) {
	var (
		rule                                         entity.PricingRule
		description                                  sql.NullString
		buyQty, getQty, usageLimit, perCustomerLimit sql.NullInt64
		startDate, endDate                           sql.NullTime
	)
	err := rows.Scan(
		&rule.ID, &rule.StoreID, &rule.Name, &rule.RuleCode, &rule.RuleType, &description, &rule.Priority,
		&rule.DiscountPercentage, &rule.DiscountAmount, &rule.FixedPrice, &buyQty, &getQty, &rule.GetDiscountPercentage,
		&rule.IsActive, &startDate, &endDate, &usageLimit, &perCustomerLimit, &rule.UsageCount, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return rule, err
	}
	rule.Description = description.String
	rule.BuyQuantity = intPtr(buyQty)
	rule.GetQuantity = intPtr(getQty)
	rule.UsageLimit = intPtr(usageLimit)
	rule.UsageLimitPerCustomer = intPtr(perCustomerLimit)
	rule.StartDate = timePtr(startDate)
	rule.EndDate = timePtr(endDate)
	return rule, nil
}

// loadChildren fills conditions, targets and tiers with one query per child table.
func (r *RuleRepository) loadChildren(ctx context.Context, cmd sqlCommand, rules []entity.PricingRule) error {
	if len(rules) == 0 {
		return nil
	}

	index := make(map[int64]int, len(rules))
	args := make([]interface{}, len(rules))
	for i, rule := range rules {
		index[rule.ID] = i
		args[i] = rule.ID
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(rules)), ",")

	// Conditions
	rows, err := cmd.QueryContext(ctx, `SELECT id, rule_id, condition_type, operator, value_text, value_number, value_array,
		value_start, value_end, logical_operator, condition_group, sort_order
		FROM rule_conditions WHERE rule_id IN (`+in+`) ORDER BY rule_id, condition_group, sort_order, id`, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var c entity.RuleCondition
		var text, array, start, end sql.NullString
		if err := rows.Scan(&c.ID, &c.RuleID, &c.ConditionType, &c.Operator, &text, &c.ValueNumber, &array,
			&start, &end, &c.LogicalOperator, &c.ConditionGroup, &c.SortOrder); err != nil {
			rows.Close()
			return err
		}
		c.ValueText, c.ValueArray, c.ValueStart, c.ValueEnd = stringPtr(text), stringPtr(array), stringPtr(start), stringPtr(end)
		i := index[c.RuleID]
		rules[i].Conditions = append(rules[i].Conditions, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Targets
	rows, err = cmd.QueryContext(ctx, `SELECT id, rule_id, target_type, target_ids, target_tags
		FROM rule_targets WHERE rule_id IN (`+in+`) ORDER BY rule_id, id`, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var t entity.RuleTarget
		var ids, tags sql.NullString
		if err := rows.Scan(&t.ID, &t.RuleID, &t.TargetType, &ids, &tags); err != nil {
			rows.Close()
			return err
		}
		t.TargetIDs, t.TargetTags = stringPtr(ids), stringPtr(tags)
		i := index[t.RuleID]
		rules[i].Targets = append(rules[i].Targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Tiers
	rows, err = cmd.QueryContext(ctx, `SELECT id, rule_id, min_quantity, max_quantity, tier_price, tier_discount_percentage, tier_discount_amount
		FROM quantity_tiers WHERE rule_id IN (`+in+`) ORDER BY rule_id, min_quantity, id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tier entity.QuantityTier
		var maxQuantity sql.NullInt64
		if err := rows.Scan(&tier.ID, &tier.RuleID, &tier.MinQuantity, &maxQuantity, &tier.TierPrice, &tier.TierDiscountPercentage, &tier.TierDiscountAmount); err != nil {
			return err
		}
		tier.MaxQuantity = intPtr(maxQuantity)
		i := index[tier.RuleID]
		rules[i].Tiers = append(rules[i].Tiers, tier)
	}
	return rows.Err()
}

// CreateRule inserts a rule and its children in one transaction.
func (r *RuleRepository) CreateRule(ctx context.Context, rule *entity.PricingRule) error {
	db, err := r.router.DB(ctx)
	if err != nil {
		return err
	}

	// Start a transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `INSERT INTO pricing_rules (store_id, name, rule_code, rule_type, description, priority,
		discount_percentage, discount_amount, fixed_price, buy_quantity, get_quantity, get_discount_percentage,
		is_active, start_date, end_date, usage_limit, usage_limit_per_customer, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	res, err := tx.ExecContext(ctx, query, rule.StoreID, rule.Name, rule.RuleCode, rule.RuleType, rule.Description, rule.Priority,
		rule.DiscountPercentage, rule.DiscountAmount, rule.FixedPrice, rule.BuyQuantity, rule.GetQuantity, rule.GetDiscountPercentage,
		rule.IsActive, rule.StartDate, rule.EndDate, rule.UsageLimit, rule.UsageLimitPerCustomer, now, now)
	if err != nil {
		tx.Rollback()
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return err
	}
	rule.ID = id

	if err := insertChildren(ctx, tx, rule); err != nil {
		tx.Rollback()
		return err
	}

	// Commit the transaction
	if err := tx.Commit(); err != nil {
		return err
	}

	rule.UsageCount = 0
	rule.CreatedAt, rule.UpdatedAt = now, now
	return nil
}

// UpdateRule replaces a rule's attributes and children. The usage count is left untouched.
func (r *RuleRepository) UpdateRule(ctx context.Context, rule *entity.PricingRule) error {
	db, err := r.router.DB(ctx)
	if err != nil {
		return err
	}

	// Start a transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	var usageCount int
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT usage_count, created_at FROM pricing_rules WHERE id = ? AND store_id = ? FOR UPDATE`,
		rule.ID, rule.StoreID).Scan(&usageCount, &createdAt)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrRuleNotFound, rule.ID)
		}
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE pricing_rules SET name = ?, rule_code = ?, rule_type = ?, description = ?, priority = ?,
		discount_percentage = ?, discount_amount = ?, fixed_price = ?, buy_quantity = ?, get_quantity = ?, get_discount_percentage = ?,
		is_active = ?, start_date = ?, end_date = ?, usage_limit = ?, usage_limit_per_customer = ?, updated_at = ?
		WHERE id = ? AND store_id = ?`
	_, err = tx.ExecContext(ctx, query, rule.Name, rule.RuleCode, rule.RuleType, rule.Description, rule.Priority,
		rule.DiscountPercentage, rule.DiscountAmount, rule.FixedPrice, rule.BuyQuantity, rule.GetQuantity, rule.GetDiscountPercentage,
		rule.IsActive, rule.StartDate, rule.EndDate, rule.UsageLimit, rule.UsageLimitPerCustomer, now, rule.ID, rule.StoreID)
	if err != nil {
		tx.Rollback()
		return err
	}

	// Delete existing children
	for _, table := range []string{"rule_conditions", "rule_targets", "quantity_tiers"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE rule_id = ?`, rule.ID); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := insertChildren(ctx, tx, rule); err != nil {
		tx.Rollback()
		return err
	}

	// Commit the transaction
	if err := tx.Commit(); err != nil {
		return err
	}

	rule.UsageCount = usageCount
	rule.CreatedAt, rule.UpdatedAt = createdAt, now
	return nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, rule *entity.PricingRule) error {
	for i := range rule.Conditions {
		c := &rule.Conditions[i]
		c.RuleID = rule.ID
		res, err := tx.ExecContext(ctx, `INSERT INTO rule_conditions (rule_id, condition_type, operator, value_text, value_number,
			value_array, value_start, value_end, logical_operator, condition_group, sort_order) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.RuleID, c.ConditionType, c.Operator, c.ValueText, c.ValueNumber, c.ValueArray, c.ValueStart, c.ValueEnd,
			c.LogicalOperator, c.ConditionGroup, c.SortOrder)
		if err != nil {
			return err
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	for i := range rule.Targets {
		t := &rule.Targets[i]
		t.RuleID = rule.ID
		res, err := tx.ExecContext(ctx, `INSERT INTO rule_targets (rule_id, target_type, target_ids, target_tags) VALUES (?, ?, ?, ?)`,
			t.RuleID, t.TargetType, t.TargetIDs, t.TargetTags)
		if err != nil {
			return err
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	for i := range rule.Tiers {
		tier := &rule.Tiers[i]
		tier.RuleID = rule.ID
		res, err := tx.ExecContext(ctx, `INSERT INTO quantity_tiers (rule_id, min_quantity, max_quantity, tier_price,
			tier_discount_percentage, tier_discount_amount) VALUES (?, ?, ?, ?, ?, ?)`,
			tier.RuleID, tier.MinQuantity, tier.MaxQuantity, tier.TierPrice, tier.TierDiscountPercentage, tier.TierDiscountAmount)
		if err != nil {
			return err
		}
		if tier.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

// DeactivateRule soft-deletes a rule; history is kept.
func (r *RuleRepository) DeactivateRule(ctx context.Context, storeID, id int64) error {
	db, err := r.router.DB(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `UPDATE pricing_rules SET is_active = 0, updated_at = ? WHERE id = ? AND store_id = ?`,
		time.Now().UTC(), id, storeID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pricing_rules WHERE id = ? AND store_id = ?`, id, storeID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	return nil
}

// CustomerUsage returns how many times clientID used each of ruleIDs.
func (r *RuleRepository) CustomerUsage(ctx context.Context, clientID int64, ruleIDs []int64) (map[int64]int, error) {
	usage := make(map[int64]int, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return usage, nil
	}

	db, err := r.router.DB(ctx)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, 0, len(ruleIDs)+1)
	args = append(args, clientID)
	for _, id := range ruleIDs {
		args = append(args, id)
	}
	query := `SELECT rule_id, usage_count FROM rule_customer_usages WHERE client_id = ? AND rule_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ruleIDs)), ",") + `)`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID int64
		var count int
		if err := rows.Scan(&ruleID, &count); err != nil {
			return nil, err
		}
		usage[ruleID] = count
	}
	return usage, rows.Err()
}

// ClaimUsage atomically records one application of a rule. The global counter and,
// for a known client, the per-customer counter are incremented only while below
// their limits; ErrUsageLimitReached is returned when either guard rejects the claim.
// When tx is nil the claim runs in its own transaction.
func (r *RuleRepository) ClaimUsage(ctx context.Context, tx *sql.Tx, claim UsageClaim) error {
	if tx == nil {
		db, err := r.router.DB(ctx)
		if err != nil {
			return err
		}
		own, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := r.ClaimUsage(ctx, own, claim); err != nil {
			own.Rollback()
			return err
		}
		return own.Commit()
	}

	limited := claim.ClientID != nil && claim.PerCustomerLimit != nil
	if limited {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT usage_claim`); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE pricing_rules SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)`, time.Now().UTC(), claim.RuleID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return fmt.Errorf("%w: rule %d", ErrUsageLimitReached, claim.RuleID)
	}

	if claim.ClientID == nil {
		return nil
	}

	if !limited {
		_, err := tx.ExecContext(ctx, `INSERT INTO rule_customer_usages (rule_id, client_id, usage_count) VALUES (?, ?, 1)
			ON DUPLICATE KEY UPDATE usage_count = usage_count + 1`, claim.RuleID, *claim.ClientID)
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO rule_customer_usages (rule_id, client_id, usage_count) VALUES (?, ?, 0)
		ON DUPLICATE KEY UPDATE usage_count = usage_count`, claim.RuleID, *claim.ClientID); err != nil {
		return err
	}
	res, err = tx.ExecContext(ctx, `UPDATE rule_customer_usages SET usage_count = usage_count + 1
		WHERE rule_id = ? AND client_id = ? AND usage_count < ?`, claim.RuleID, *claim.ClientID, *claim.PerCustomerLimit)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Undo the global increment.
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT usage_claim`); err != nil {
			return err
		}
		return fmt.Errorf("%w: rule %d for client %d", ErrUsageLimitReached, claim.RuleID, *claim.ClientID)
	}
	return nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
