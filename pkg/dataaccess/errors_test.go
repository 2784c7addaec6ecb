package dataaccess

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := Newf(KindShardKey, "delete", "filter is missing shard key field %q", "tenantId")

	assert.True(t, errors.Is(err, ErrShardKey))
	assert.False(t, errors.Is(err, ErrInvalidQuery))
	assert.Equal(t, KindShardKey, KindOf(err))
	assert.Contains(t, err.Error(), "delete: filter is missing shard key field")
}

func TestErrorUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindTransactionCommit, "commit", "could not commit", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrTransactionCommit))
	assert.Equal(t, "commit: could not commit: boom", err.Error())
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"no documents", mongo.ErrNoDocuments, KindNotFound},
		{"duplicate key", mongo.CommandError{Code: 11000, Message: "E11000"}, KindDuplicateKey},
		{"transient", mongo.CommandError{Code: 251, Labels: []string{"TransientTransactionError"}}, KindTransientTransaction},
		{"unknown commit", mongo.CommandError{Code: 91, Labels: []string{"UnknownTransactionCommitResult"}}, KindUnknownCommitResult},
		{"other", errors.New("weird"), KindUncategorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			translated := Translate("find", tc.err)
			require.Error(t, translated)
			assert.Equal(t, tc.kind, KindOf(translated))
		})
	}
}

func TestTranslateKeepsExistingKind(t *testing.T) {
	original := Newf(KindInvalidQuery, "map", "bad path")
	assert.Same(t, original, Translate("find", original))
	assert.Nil(t, Translate("find", nil))
}

func TestIsRetriableCommit(t *testing.T) {
	assert.True(t, IsRetriableCommit(mongo.CommandError{Labels: []string{"UnknownTransactionCommitResult"}}))
	assert.False(t, IsRetriableCommit(errors.New("plain")))
}

func TestCommitKind(t *testing.T) {
	assert.Equal(t, KindUnknownCommitResult, CommitKind(mongo.CommandError{Labels: []string{"UnknownTransactionCommitResult"}}))
	assert.Equal(t, KindTransactionCommit, CommitKind(errors.New("plain")))
}
