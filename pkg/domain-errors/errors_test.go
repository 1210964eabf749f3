package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCodeThroughFmtWrapping(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("update row: %w", Wrap(base, CodeInternal, "store failure"))

	assert.True(t, HasCode(err, CodeInternal))
	assert.False(t, HasCode(err, CodeForbidden))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestIsMatchesCodeAndMessage(t *testing.T) {
	err := New(CodeFieldNotEditable, "field is not editable")

	require.ErrorIs(t, err, New(CodeFieldNotEditable, "field is not editable"))
	assert.NotErrorIs(t, err, New(CodeFieldNotEditable, "other message"))
	assert.NotErrorIs(t, err, New(CodeBadRequest, "field is not editable"))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidClaim:           http.StatusUnauthorized,
		CodeFieldNotEditable:       http.StatusBadRequest,
		CodeInvalidValue:           http.StatusBadRequest,
		CodeAccessDeniedOrNotFound: http.StatusForbidden,
		CodeForbidden:              http.StatusForbidden,
		CodeNotFound:               http.StatusNotFound,
		CodeTimeout:                http.StatusGatewayTimeout,
		CodeUnavailable:            http.StatusServiceUnavailable,
		CodeInternal:               http.StatusInternalServerError,
		Code("unknown"):            http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
