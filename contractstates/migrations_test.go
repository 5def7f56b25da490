package contractstates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContractState struct{}

func (testContractState) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS nft_states (
			token_id INTEGER NOT NULL,
			contract_address TEXT NOT NULL,
			owner_address TEXT NOT NULL
		)`,
		`UPDATE nft_states SET owner_address = '' WHERE owner_address IS NULL`,
	}
}

func TestGetMigrationsReturnsTwoMoreMigrationsForEachCreateTable(t *testing.T) {
	cs := testContractState{}

	migrations, err := GetMigrations(cs)
	require.NoError(t, err)

	assert.Equal(t, len(cs.Migrations())+2, len(migrations))
}

func TestGetMigrationsAppendsDefaultFieldsToStateViewsMigration(t *testing.T) {
	cs := testContractState{}

	migrations, err := GetMigrations(cs)
	require.NoError(t, err)

	stateViewsMigration := migrations[0]
	assert.NotEqual(t, cs.Migrations()[0], stateViewsMigration)

	for _, field := range DefaultMigrationFieldNames {
		assert.Contains(t, stateViewsMigration, field)
	}
}

func TestGetMigrationsRemovesRepeatingDefaultFieldsInStateViewsMigration(t *testing.T) {
	cs := testContractState{}

	migrations, err := GetMigrations(cs)
	require.NoError(t, err)

	stateViewsMigration := migrations[0]
	for _, field := range DefaultMigrationFieldNames {
		assert.Equal(t, 1, strings.Count(stateViewsMigration, field))
	}
}

func TestGetMigrationsCreatesAnExtraMigrationForStateVersions(t *testing.T) {
	cs := testContractState{}

	migrations, err := GetMigrations(cs)
	require.NoError(t, err)

	stateVersionsMigration := migrations[1]
	assert.Contains(t, stateVersionsMigration, StateVersionsTablePrefix)
	for _, field := range DefaultMigrationFieldNames {
		assert.Contains(t, stateVersionsMigration, field)
	}
}

func TestGetMigrationsCreatesAUniqueIndexMigrationLast(t *testing.T) {
	cs := testContractState{}

	migrations, err := GetMigrations(cs)
	require.NoError(t, err)

	uniqueIndexMigration := migrations[2]
	assert.Contains(t, uniqueIndexMigration, "CREATE UNIQUE INDEX IF NOT EXISTS")
	assert.Contains(t, uniqueIndexMigration, StateVersionsTablePrefix+"nft_states")
}

func TestGetMigrationsLeavesNonCreateTableMigrationsUntouched(t *testing.T) {
	cs := testContractState{}

	migrations, err := GetMigrations(cs)
	require.NoError(t, err)

	assert.Equal(t, cs.Migrations()[len(cs.Migrations())-1], migrations[len(migrations)-1])
}

func TestGetMigrationsRejectsTemporalColumnTypes(t *testing.T) {
	invalid := invalidContractState{
		migration: `CREATE TABLE IF NOT EXISTS events_states (
			occurred_at timestamp NOT NULL
		)`,
	}

	_, err := GetMigrations(invalid)
	require.Error(t, err)
}

type invalidContractState struct {
	migration string
}

func (s invalidContractState) Migrations() []string {
	return []string{s.migration}
}

func TestGetResetMigrationsDropsEveryStateTable(t *testing.T) {
	cs := testContractState{}

	resetMigrations, err := GetResetMigrations(cs)
	require.NoError(t, err)

	require.Len(t, resetMigrations, 2)
	assert.Contains(t, resetMigrations[0], "DROP TABLE IF EXISTS nft_states")
	assert.Contains(t, resetMigrations[1], "DROP TABLE IF EXISTS "+StateVersionsTablePrefix+"nft_states")
}

func TestTableNamesReturnsOnlyCreateTableNames(t *testing.T) {
	cs := testContractState{}

	assert.Equal(t, []string{"nft_states"}, TableNames(cs))
}
