// Package contractstates plans the DDL chaindexing runs for user-declared
// contract state tables: every CREATE TABLE a user supplies is expanded
// into a view, a versions table, and a uniqueness index over that versions
// table, so that contract state read by event handlers is always
// reconstructable from its append-only version history.
package contractstates

import (
	"fmt"
	"strings"
)

// StateVersionsTablePrefix names the durable history table chaindexing
// generates for every user-declared state table: a table "nft_states" gets
// a sibling "chaindexing_nft_states" accumulating every version ever
// written to it.
const StateVersionsTablePrefix = "chaindexing_"

const createTablePrefix = "CREATE TABLE IF NOT EXISTS"

// ContractStateMigrations is the user extension point for a state table's
// shape: one or more DDL/DML statements. Every CREATE TABLE IF NOT EXISTS
// in the list is rewritten into a view+versions+index triple by
// GetMigrations; anything else passes through untouched.
type ContractStateMigrations interface {
	Migrations() []string
}

// TableNames returns the user-declared table names across every
// CREATE TABLE statement in m.Migrations().
func TableNames(m ContractStateMigrations) []string {
	var names []string
	for _, migration := range m.Migrations() {
		if strings.HasPrefix(migration, createTablePrefix) {
			names = append(names, extractTableName(migration))
		}
	}
	return names
}

// GetMigrations expands every user CREATE TABLE statement into three
// statements: the state view table (default columns appended), its
// versions table (default columns plus version bookkeeping, named under
// StateVersionsTablePrefix), and a unique index over the versions table's
// fields. Any other statement passes through as-is.
func GetMigrations(m ContractStateMigrations) ([]string, error) {
	var out []string
	for _, userMigration := range m.Migrations() {
		if err := validateMigration(userMigration); err != nil {
			return nil, err
		}

		if !strings.HasPrefix(userMigration, createTablePrefix) {
			out = append(out, userMigration)
			continue
		}

		stateViews := appendMigration(userMigration, remainingStateViewsMigration())
		stateViews = removeRepeatingOccurrences(stateViews)

		stateVersions := appendMigration(userMigration, remainingStateVersionsMigration())
		stateVersions = setStateVersionsTableName(stateVersions)
		stateVersions = removeRepeatingOccurrences(stateVersions)

		stateVersionsTableName := extractTableName(stateVersions)
		stateVersionsFields := extractTableFields(stateVersions)
		uniqueIndex := uniqueIndexMigrationForStateVersions(stateVersionsTableName, stateVersionsFields)

		out = append(out, stateViews, stateVersions, uniqueIndex)
	}
	return out, nil
}

// GetResetMigrations drops every state table GetMigrations would create,
// the state machine's reset transition: a resumed ingestion with a bumped
// reset count rebuilds contract state from scratch before reingesting.
func GetResetMigrations(m ContractStateMigrations) ([]string, error) {
	migrations, err := GetMigrations(m)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, migration := range migrations {
		if !strings.HasPrefix(migration, createTablePrefix) {
			continue
		}
		out = append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s", extractTableName(migration)))
	}
	return out, nil
}

func extractTableName(migration string) string {
	rest := strings.Replace(migration, createTablePrefix, "", 1)
	name := strings.SplitN(rest, "(", 2)[0]
	return strings.TrimSpace(name)
}

func extractTableFields(migration string) []string {
	body := strings.ReplaceAll(migration, ")", "")
	parts := strings.Split(body, "(")
	fieldsBlob := parts[len(parts)-1]

	fields := make([]string, 0)
	for _, field := range strings.Split(fieldsBlob, ",") {
		tokens := strings.Fields(field)
		if len(tokens) == 0 {
			continue
		}
		fields = append(fields, tokens[0])
	}
	return fields
}

func uniqueIndexMigrationForStateVersions(tableName string, fields []string) string {
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "state_version_id" {
			continue
		}
		kept = append(kept, f)
	}
	return fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS unique_%s ON %s(%s)",
		tableName, tableName, strings.Join(kept, ","),
	)
}

var invalidMigrationKeywords = []string{" timestamp", " timestampz", " date", " time"}

// validateMigration rejects a user migration that declares a temporal
// column type. Contract state is already ordered by block_number and
// log_index; a user-declared timestamp/date/time column is an unindexed,
// ambiguous second notion of time and is fatal at startup.
func validateMigration(migration string) error {
	lower := strings.ToLower(migration)
	for _, keyword := range invalidMigrationKeywords {
		if strings.Contains(lower, keyword) {
			return fmt.Errorf("%s type fields cannot be indexed", strings.TrimSpace(keyword))
		}
	}
	return nil
}

func appendMigration(migration, toAppend string) string {
	joined := strings.ReplaceAll(migration, "\n", "") + "," + toAppend
	collapsed := strings.Join(strings.Fields(joined), " ")
	collapsed = strings.ReplaceAll(collapsed, "),", ",")
	collapsed = strings.ReplaceAll(collapsed, "),,", ",")
	collapsed = strings.ReplaceAll(collapsed, ", ,", ",")
	return collapsed
}

func remainingStateVersionsMigration() string {
	return fmt.Sprintf(
		"state_version_id BIGSERIAL PRIMARY KEY, state_version_is_deleted BOOL NOT NULL default false, %s",
		defaultMigrationFields(),
	)
}

func remainingStateViewsMigration() string {
	return defaultMigrationFields()
}

func setStateVersionsTableName(migration string) string {
	return strings.Replace(migration, createTablePrefix+" ", createTablePrefix+" "+StateVersionsTablePrefix, 1)
}

// defaultMigrationFields ends with the closing paren appendMigration relies
// on to re-close the table definition it reopened by turning the user's own
// closing paren into a comma.
func defaultMigrationFields() string {
	return `state_version_group_id UUID NOT NULL,
		contract_address TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		block_hash TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		transaction_hash TEXT NOT NULL,
		transaction_index BIGINT NOT NULL,
		log_index BIGINT NOT NULL)`
}

// DefaultMigrationFieldNames are the default columns every state view and
// state versions table carries. removeRepeatingOccurrences uses these to
// de-duplicate a user migration that already declares a same-named column.
var DefaultMigrationFieldNames = []string{
	"contract_address",
	"chain_id",
	"block_hash",
	"block_number",
	"transaction_hash",
	"transaction_index",
	"log_index",
}

// removeRepeatingOccurrences drops a default-column token from an expanded
// migration once its name has already occurred once in the text — i.e. the
// user's own table declared a column of the same name. The match is by
// substring, not token equality: a user column whose name merely contains,
// or is contained by, a default column's name can also be affected. This
// mirrors the original migration planner's de-duplication and is not
// "fixed" here (see DESIGN.md).
func removeRepeatingOccurrences(migration string) string {
	repeating := make([]string, 0, len(DefaultMigrationFieldNames))
	for _, field := range DefaultMigrationFieldNames {
		if strings.Count(migration, field) > 1 {
			repeating = append(repeating, field)
		}
	}

	seenCount := make(map[string]int, len(repeating))

	tokens := strings.Split(migration, ",")
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		field, isDefault := firstContaining(repeating, token)
		if !isDefault {
			kept = append(kept, token)
			continue
		}
		if seenCount[field] != 1 {
			seenCount[field]++
			kept = append(kept, token)
		}
	}
	return strings.Join(kept, ",")
}

func firstContaining(fields []string, token string) (string, bool) {
	for _, f := range fields {
		if strings.Contains(token, f) {
			return f, true
		}
	}
	return "", false
}
