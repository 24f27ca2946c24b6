package queue

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLabel(t *testing.T) {
	codec := NewCodec("secret", "")
	assert.Equal(t, "Q007", codec.Format(7))
	assert.Equal(t, "Q123", codec.Format(123))
	assert.Equal(t, "Q1000", codec.Format(1000))
	assert.Equal(t, "A042", FormatLabel(42, "A"))
}

func TestLabelRoundTrip(t *testing.T) {
	codec := NewCodec("secret", DefaultPrefix)
	for n := 1; n <= 9999; n++ {
		got, ok := ParseLabel(codec.Format(n))
		require.True(t, ok, "label for %d did not parse", n)
		require.Equal(t, n, got)
	}
}

func TestParseLabelRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "007", "q007", "Q", "Q-7", "Q7a", " Q007", "Q0 07"} {
		_, ok := ParseLabel(raw)
		assert.False(t, ok, "expected %q to be rejected", raw)
	}
	n, ok := ParseLabel("AB12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
}

func TestDigestIsKeyedAndShort(t *testing.T) {
	a := NewCodec("secret-a", "")
	b := NewCodec("secret-b", "")

	digest := a.Digest("order-1")
	assert.Regexp(t, regexp.MustCompile(`^[a-f0-9]{8}$`), digest)
	assert.Equal(t, digest, a.Digest("order-1"))
	assert.NotEqual(t, digest, b.Digest("order-1"))
	assert.NotEqual(t, digest, a.Digest("order-2"))
}

func TestMintURL(t *testing.T) {
	codec := NewCodec("secret", "")

	minted := codec.MintURL(7, "order-1", "")
	assert.Regexp(t, regexp.MustCompile(`^/queue/Q007-[a-f0-9]{8}$`), minted.Path)
	assert.Equal(t, minted.Path, minted.URL)
	assert.Equal(t, codec.Digest("order-1"), minted.Hash)

	withBase := codec.MintURL(7, "order-1", "https://shop.example")
	assert.Equal(t, "https://shop.example"+minted.Path, withBase.URL)
	assert.Equal(t, minted.Path, withBase.Path)
}

func TestParseTicket(t *testing.T) {
	parsed, ok := ParseTicket("Q007-a1b2c3d4")
	require.True(t, ok)
	assert.Equal(t, Ticket{QueueNumber: 7, Label: "Q007", Hash: "a1b2c3d4"}, parsed)

	for _, raw := range []string{"garbage", "Q007", "Q007-XYZ", "Q007-A1B2C3D4", "Q007-a1b2c3d", "Q007-a1b2c3d4e", "/queue/Q007-a1b2c3d4", "007-a1b2c3d4"} {
		_, ok := ParseTicket(raw)
		assert.False(t, ok, "expected %q to be rejected", raw)
	}
}

func TestValidateTicket(t *testing.T) {
	codec := NewCodec("secret", "")

	for n := 1; n <= 50; n++ {
		ticket := codec.Ticket(n, "order-1")
		assert.NoError(t, codec.Validate(ticket, "order-1"))
		assert.ErrorIs(t, codec.Validate(ticket, "order-2"), ErrInvalidHash)
	}

	assert.ErrorIs(t, codec.Validate("Q007", "order-1"), ErrInvalidFormat)
	assert.ErrorIs(t, codec.Validate("Q007-zzzzzzzz", "order-1"), ErrInvalidFormat)

	other := NewCodec("other-secret", "")
	assert.ErrorIs(t, other.Validate(codec.Ticket(7, "order-1"), "order-1"), ErrInvalidHash)
}
