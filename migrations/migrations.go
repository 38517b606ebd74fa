package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

var pricingRuleTables = []string{
	`CREATE TABLE IF NOT EXISTS pricing_rules (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		store_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		rule_code VARCHAR(100) NOT NULL,
		rule_type VARCHAR(50) NOT NULL,
		description TEXT NULL,
		priority INT NOT NULL DEFAULT 0,
		discount_percentage DECIMAL(7,4) NULL,
		discount_amount DECIMAL(15,2) NULL,
		fixed_price DECIMAL(15,2) NULL,
		buy_quantity INT NULL,
		get_quantity INT NULL,
		get_discount_percentage DECIMAL(7,4) NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		start_date DATETIME NULL,
		end_date DATETIME NULL,
		usage_limit INT NULL,
		usage_limit_per_customer INT NULL,
		usage_count INT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_pricing_rules_store_code (store_id, rule_code),
		KEY idx_pricing_rules_store_active (store_id, is_active)
	);`,
	`CREATE TABLE IF NOT EXISTS rule_conditions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		rule_id BIGINT NOT NULL,
		condition_type VARCHAR(50) NOT NULL,
		operator VARCHAR(20) NOT NULL,
		value_text TEXT NULL,
		value_number DECIMAL(15,4) NULL,
		value_array JSON NULL,
		value_start VARCHAR(50) NULL,
		value_end VARCHAR(50) NULL,
		logical_operator VARCHAR(3) NOT NULL DEFAULT 'AND',
		condition_group INT NOT NULL DEFAULT 0,
		sort_order INT NOT NULL DEFAULT 0,
		FOREIGN KEY (rule_id) REFERENCES pricing_rules(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS rule_targets (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		rule_id BIGINT NOT NULL,
		target_type VARCHAR(20) NOT NULL,
		target_ids JSON NULL,
		target_tags JSON NULL,
		FOREIGN KEY (rule_id) REFERENCES pricing_rules(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS quantity_tiers (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		rule_id BIGINT NOT NULL,
		min_quantity INT NOT NULL,
		max_quantity INT NULL,
		tier_price DECIMAL(15,2) NULL,
		tier_discount_percentage DECIMAL(7,4) NULL,
		tier_discount_amount DECIMAL(15,2) NULL,
		FOREIGN KEY (rule_id) REFERENCES pricing_rules(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS rule_customer_usages (
		rule_id BIGINT NOT NULL,
		client_id BIGINT NOT NULL,
		usage_count INT NOT NULL DEFAULT 0,
		PRIMARY KEY (rule_id, client_id),
		FOREIGN KEY (rule_id) REFERENCES pricing_rules(id) ON DELETE CASCADE
	);`,
}

var documentTables = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		store_id BIGINT NOT NULL,
		kind VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		client_id BIGINT NULL,
		client_type VARCHAR(50) NULL,
		client_tags JSON NULL,
		subtotal DECIMAL(15,2) NOT NULL,
		discount_total DECIMAL(15,2) NOT NULL,
		total DECIMAL(15,2) NOT NULL,
		applied_rule_ids JSON NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		finalized_at DATETIME NULL,
		KEY idx_documents_store (store_id, status)
	);`,
	`CREATE TABLE IF NOT EXISTS document_lines (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		document_id BIGINT NOT NULL,
		line_no INT NOT NULL,
		product_id BIGINT NOT NULL,
		sku VARCHAR(100) NOT NULL DEFAULT '',
		category_id BIGINT NULL,
		category_name VARCHAR(255) NOT NULL DEFAULT '',
		tags JSON NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(15,2) NOT NULL,
		adjusted_unit_price DECIMAL(15,2) NOT NULL,
		discount_amount DECIMAL(15,2) NOT NULL,
		line_total DECIMAL(15,2) NOT NULL,
		applied_rule_id BIGINT NULL,
		applied_rule_code VARCHAR(100) NULL,
		UNIQUE KEY uq_document_lines_no (document_id, line_no),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);`,
}

// AutoMigratePricingRules creates the rule tables if they do not exist.
func AutoMigratePricingRules(retries int, dbs ...*sql.DB) error {
	return migrate(retries, pricingRuleTables, dbs)
}

// AutoMigrateDocuments creates the document tables if they do not exist.
func AutoMigrateDocuments(retries int, dbs ...*sql.DB) error {
	return migrate(retries, documentTables, dbs)
}

func migrate(retries int, queries []string, dbs []*sql.DB) error {
	for _, db := range dbs {
		for _, query := range queries {
			_, err := db.Exec(query)
			// Retry creating the table
			for i := 0; err != nil && i < retries; i++ {
				time.Sleep(1 * time.Second)
				_, err = db.Exec(query)
			}
			if err != nil {
				return fmt.Errorf("migration failed after %d retries: %w", retries, err)
			}
		}
	}
	return nil
}
