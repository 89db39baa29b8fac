package store

import (
	"fmt"
	"strings"
)

// schema returns the DDL for the dialect. Column types are substituted from
// placeholders: {pk} {money} {ts} {bool} {text} {str}.
func (d dialect) schema() []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id {pk},
			email {str} UNIQUE NOT NULL,
			name {str} NOT NULL DEFAULT '',
			password_hash {str} NOT NULL DEFAULT '',
			role {str} NOT NULL DEFAULT 'sales_rep',
			is_active {bool} NOT NULL DEFAULT {true},
			last_login_at {ts} NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id {pk},
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			key_prefix {str} NOT NULL,
			key_hash {str} NOT NULL,
			label {str} NOT NULL DEFAULT '',
			is_active {bool} NOT NULL DEFAULT {true},
			expires_at {ts} NULL,
			created_at {ts} NOT NULL,
			last_used {ts} NULL,
			UNIQUE (key_prefix, key_hash)
		)`,

		`CREATE TABLE IF NOT EXISTS companies (
			id {pk},
			name {str} NOT NULL,
			domain {str} NOT NULL DEFAULT '',
			industry {str} NOT NULL DEFAULT '',
			owner_id BIGINT NOT NULL REFERENCES users(id),
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS contacts (
			id {pk},
			first_name {str} NOT NULL DEFAULT '',
			last_name {str} NOT NULL DEFAULT '',
			email {str} NOT NULL DEFAULT '',
			phone {str} NOT NULL DEFAULT '',
			title {str} NOT NULL DEFAULT '',
			company_id BIGINT NULL REFERENCES companies(id) ON DELETE SET NULL,
			owner_id BIGINT NOT NULL REFERENCES users(id),
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS deals (
			id {pk},
			title {str} NOT NULL,
			stage {str} NOT NULL,
			value {money} NOT NULL,
			probability INTEGER NOT NULL DEFAULT 0,
			contact_id BIGINT NULL REFERENCES contacts(id) ON DELETE SET NULL,
			company_id BIGINT NULL REFERENCES companies(id) ON DELETE SET NULL,
			owner_id BIGINT NOT NULL REFERENCES users(id),
			expected_close {ts} NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL,
			CHECK (stage IN ('prospecting','qualification','proposal','closing','won','lost')),
			CHECK (probability BETWEEN 0 AND 100)
		)`,

		`CREATE TABLE IF NOT EXISTS activities (
			id {pk},
			type {str} NOT NULL,
			subject {str} NOT NULL,
			notes {text} NOT NULL,
			due_at {ts} NULL,
			done {bool} NOT NULL DEFAULT {false},
			contact_id BIGINT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			deal_id BIGINT NULL REFERENCES deals(id) ON DELETE CASCADE,
			owner_id BIGINT NOT NULL REFERENCES users(id),
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS campaigns (
			id {pk},
			name {str} NOT NULL,
			subject {str} NOT NULL DEFAULT '',
			body {text} NOT NULL,
			status {str} NOT NULL DEFAULT 'draft',
			scheduled_at {ts} NULL,
			sent_at {ts} NULL,
			owner_id BIGINT NOT NULL REFERENCES users(id),
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS approvals (
			id {pk},
			kind {str} NOT NULL,
			deal_id BIGINT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
			requested_by BIGINT NOT NULL REFERENCES users(id),
			status {str} NOT NULL DEFAULT 'pending',
			decided_by BIGINT NULL REFERENCES users(id),
			decided_at {ts} NULL,
			note {text} NOT NULL,
			decision_note {text} NULL,
			created_at {ts} NOT NULL
		)`,

		// Databases created before decisions kept their own note.
		`ALTER TABLE approvals ADD COLUMN decision_note {text} NULL`,

		`CREATE INDEX idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE INDEX idx_deals_owner_stage ON deals(owner_id, stage)`,
		`CREATE INDEX idx_contacts_owner ON contacts(owner_id)`,
		`CREATE INDEX idx_activities_owner_due ON activities(owner_id, due_at)`,
		`CREATE INDEX idx_approvals_status ON approvals(status)`,
	}

	trueLit, falseLit := "TRUE", "FALSE"
	if d.boolean == "INTEGER" {
		trueLit, falseLit = "1", "0"
	}
	r := strings.NewReplacer(
		"{pk}", d.primaryKey,
		"{money}", d.money,
		"{ts}", d.timestamp,
		"{bool}", d.boolean,
		"{text}", d.text,
		"{str}", d.varchar,
		"{true}", trueLit,
		"{false}", falseLit,
	)
	for i, s := range stmts {
		stmts[i] = r.Replace(s)
	}
	return stmts
}

func (s *Store) migrate() error {
	for _, m := range s.dialect.schema() {
		if _, err := s.db.Exec(m); err != nil {
			// CREATE INDEX and ADD COLUMN have no portable IF NOT EXISTS; an
			// existing index or column means the migration already ran.
			if isAlreadyExists(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "already exists") ||
		strings.Contains(lower, "duplicate key name") ||
		strings.Contains(lower, "duplicate column name")
}
