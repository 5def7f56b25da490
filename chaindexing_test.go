package chaindexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNFTState struct{}

func (fakeNFTState) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS nft_states (
			token_id INTEGER NOT NULL,
			owner_address TEXT NOT NULL
		)`,
	}
}

func TestPlanStateMigrationsSkipsContractsWithNoStateMigrations(t *testing.T) {
	contracts := Contracts{NewContract("NFT", "[]")}

	migrationsByContract, resetMigrationsByContract, err := planStateMigrations(contracts)
	require.NoError(t, err)

	assert.Empty(t, migrationsByContract["NFT"])
	assert.Empty(t, resetMigrationsByContract["NFT"])
}

func TestPlanStateMigrationsExpandsDeclaredContractStateMigrations(t *testing.T) {
	contracts := Contracts{
		NewContract("NFT", "[]").WithStateMigrations(fakeNFTState{}),
	}

	migrationsByContract, resetMigrationsByContract, err := planStateMigrations(contracts)
	require.NoError(t, err)

	assert.NotEmpty(t, migrationsByContract["NFT"])
	assert.NotEmpty(t, resetMigrationsByContract["NFT"])
}

func TestPlanStateMigrationsRejectsInvalidMigrationDDL(t *testing.T) {
	contracts := Contracts{
		NewContract("Bad", "[]").WithStateMigrations(badMigrationState{}),
	}

	_, _, err := planStateMigrations(contracts)
	assert.Error(t, err)
}

type badMigrationState struct{}

func (badMigrationState) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS bad_states (
			created_at TIMESTAMP NOT NULL
		)`,
	}
}
