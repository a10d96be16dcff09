package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_RoundTrip(t *testing.T) {
	tok := New(nil, aliceFields)
	ctx := WithContext(context.Background(), tok)

	assert.Same(t, tok, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
