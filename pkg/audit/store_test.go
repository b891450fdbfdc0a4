package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulus-ai/overlord/pkg/audit"
	"github.com/nebulus-ai/overlord/test/util"
)

func TestAppendAndVerifyIntegrity(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := audit.NewStore(db, nil)
	ctx := context.Background()

	e1, err := s.Append(ctx, "work", "task-1", map[string]interface{}{"repo": "org/repo", "issue": 1}, "queue sweep selected issue")
	require.NoError(t, err)
	e2, err := s.Append(ctx, "complete", "task-1", map[string]interface{}{"pr_number": 9}, "minion finished")
	require.NoError(t, err)

	assert.Equal(t, e1.EntryHash, e2.PreviousHash)

	ok, diagnostics, err := s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, diagnostics)
}

func TestVerifyIntegrityDetectsTamper(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := audit.NewStore(db, nil)
	ctx := context.Background()

	_, err := s.Append(ctx, "work", "task-1", map[string]interface{}{"repo": "org/repo"}, "reason")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE audit_log SET reasoning = 'tampered' WHERE task_id = 'task-1'`)
	require.NoError(t, err)

	ok, diagnostics, err := s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NotEmpty(t, diagnostics)
}

func TestExportFiltersByTaskIDButVerifiesWholeChain(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := audit.NewStore(db, nil)
	ctx := context.Background()

	_, err := s.Append(ctx, "work", "task-1", nil, "r1")
	require.NoError(t, err)
	_, err = s.Append(ctx, "work", "task-2", nil, "r2")
	require.NoError(t, err)

	result, err := s.Export(ctx, "task-1")
	require.NoError(t, err)
	assert.Len(t, result.Entries, 1)
	assert.True(t, result.IntegrityOK)
}

func TestSignedChainVerifies(t *testing.T) {
	db := util.SetupTestDatabase(t)
	signer, err := audit.NewSigner("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	s := audit.NewStore(db, signer)
	ctx := context.Background()

	_, err = s.Append(ctx, "work", "task-1", nil, "reason")
	require.NoError(t, err)

	ok, diagnostics, err := s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, diagnostics)
}
