package projects

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
)

func TestDecodeUpdateRejectsBlankNames(t *testing.T) {
	for _, raw := range []string{
		`{"projectName": "   "}`,
		`{"organizationName": "\t "}`,
	} {
		_, err := DecodeUpdate(json.RawMessage(raw))
		require.ErrorIs(t, err, appErrors.ErrValidation, raw)
	}

	u, err := DecodeUpdate(json.RawMessage(`{"projectName": "  Kelp Forest  "}`))
	require.NoError(t, err)
	require.NotNil(t, u.ProjectName)
	assert.Equal(t, "Kelp Forest", *u.ProjectName)
}

func TestDecodeUpdateRejectsUnknownFields(t *testing.T) {
	_, err := DecodeUpdate(json.RawMessage(`{"submissionStatus": "approved"}`))
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, "submissionStatus", appErrors.FromError(err).Details["field"])
}

func TestDecodeUpdateChecksCreditPrecision(t *testing.T) {
	_, err := DecodeUpdate(json.RawMessage(`{"proposedCredit": 480.12345}`))
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "proposedCredit")

	u, err := DecodeUpdate(json.RawMessage(`{"proposedCredit": 480.1235}`))
	require.NoError(t, err)
	assert.Equal(t, 480.1235, *u.ProposedCredit)
}

func TestValidCredit(t *testing.T) {
	tests := []struct {
		amount float64
		want   bool
	}{
		{480, true},
		{0.0001, true},
		{480.1235, true},
		{9999999999.9999, true},
		{480.12345, false},
		{0, false},
		{-5, false},
		{MaxCredit, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidCredit(tt.amount), "amount %v", tt.amount)
	}
}
