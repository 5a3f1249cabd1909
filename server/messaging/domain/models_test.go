package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePairIsOrderIndependent(t *testing.T) {
	assert.Equal(t, NormalizePair("b", "a"), NormalizePair("a", "b"))
	assert.Equal(t, [2]string{"a", "b"}, NormalizePair("b", "a"))
}

func TestValidateMessageBody(t *testing.T) {
	body, err := ValidateMessageBody("  Hello  ")
	require.NoError(t, err)
	assert.Equal(t, "Hello", body)

	_, err = ValidateMessageBody(" \n\t ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ValidateMessageBody(strings.Repeat("x", MaxMessageBodyLength))
	assert.NoError(t, err)

	_, err = ValidateMessageBody(strings.Repeat("x", MaxMessageBodyLength+1))
	assert.ErrorIs(t, err, ErrValidation)

	// Limits count characters, not bytes.
	_, err = ValidateMessageBody(strings.Repeat("é", MaxMessageBodyLength))
	assert.NoError(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 140))
	out := Truncate(strings.Repeat("a", 200), 140)
	assert.Len(t, []rune(out), 140)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestErrorKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("append: %w", Forbidden("not a participant"))
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "append: not a participant", err.Error())
}

func TestConversationPeer(t *testing.T) {
	conv := Conversation{Participants: NormalizePair("u-2", "u-1")}
	assert.Equal(t, "u-2", conv.Peer("u-1"))
	assert.Equal(t, "u-1", conv.Peer("u-2"))
	assert.Equal(t, "", conv.Peer("u-3"))
	assert.False(t, conv.HasParticipant("u-3"))
}
