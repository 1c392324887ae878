package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTranslator struct {
	mock.Mock
}

func (m *mockTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	args := m.Called(ctx, text, source, target)
	return args.String(0), args.Error(1)
}

func TestWithFallback_PassesThroughSuccess(t *testing.T) {
	ctx := context.Background()
	next := new(mockTranslator)
	next.On("Translate", ctx, "Hello", "en", "ja").Return("こんにちは", nil).Once()

	out, err := WithFallback(next, nil).Translate(ctx, "Hello", "en", "ja")
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", out)
	next.AssertExpectations(t)
}

func TestWithFallback_EchoesOnFailure(t *testing.T) {
	ctx := context.Background()
	next := new(mockTranslator)
	next.On("Translate", ctx, "Hello", "en", "ja").Return("", errors.New("upstream down")).Once()
	next.On("Translate", ctx, "Bye", "en", "ja").Return("   ", nil).Once()

	tr := WithFallback(next, nil)
	out, err := tr.Translate(ctx, "Hello", "en", "ja")
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)

	out, err = tr.Translate(ctx, "Bye", "en", "ja")
	require.NoError(t, err)
	assert.Equal(t, "Bye", out)
	next.AssertExpectations(t)
}

func TestWithFallback_SkipsProviderForTrivialInput(t *testing.T) {
	next := new(mockTranslator)
	tr := WithFallback(next, nil)

	out, _ := tr.Translate(context.Background(), "  ", "en", "ja")
	assert.Equal(t, "  ", out)
	out, _ = tr.Translate(context.Background(), "Hello", "en", "en")
	assert.Equal(t, "Hello", out)
	next.AssertNotCalled(t, "Translate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEcho(t *testing.T) {
	out, err := Echo{}.Translate(context.Background(), "そのまま", "ja", "en")
	require.NoError(t, err)
	assert.Equal(t, "そのまま", out)
}
