package errors

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorImplementsError(t *testing.T) {
	err := New(http.StatusBadRequest, "BAD", "something is off")

	assert.Equal(t, "something is off", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
}

func TestAPIErrorRenderSetsStatus(t *testing.T) {
	apiErr := NotFoundError("execution abc")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, render.Render(rec, req, apiErr))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "execution abc not found")
}

func TestErrValidationCarriesFieldDetails(t *testing.T) {
	err := ErrValidation("datasetId", "is required")

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	detail, ok := err.Details.(ValidationError)
	require.True(t, ok)
	assert.Equal(t, "datasetId", detail.Field)
}

func TestConflictAndExecutionHelpers(t *testing.T) {
	conflict := ConflictError("execution exec-1 is already running")
	assert.Equal(t, http.StatusConflict, conflict.StatusCode)
	assert.Equal(t, "CONFLICT", conflict.ErrorCode)

	execErr := ExecutionFailedError(errors.New("step died"))
	assert.Equal(t, http.StatusInternalServerError, execErr.StatusCode)
	assert.Equal(t, "step died", execErr.Details)
}
