package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptional(t *testing.T) {
	type patch struct {
		Description Optional[string] `json:"description"`
	}

	tests := []struct {
		name        string
		body        string
		wantPresent bool
		wantValue   *string
	}{
		{name: "absent", body: `{}`, wantPresent: false},
		{name: "null", body: `{"description": null}`, wantPresent: true},
		{name: "empty", body: `{"description": ""}`, wantPresent: true, wantValue: ptr("")},
		{name: "value", body: `{"description": "fog"}`, wantPresent: true, wantValue: ptr("fog")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p patch
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			assert.Equal(t, tt.wantPresent, p.Description.Present)
			assert.Equal(t, tt.wantValue, p.Description.Value)
		})
	}
}

func ptr(s string) *string { return &s }

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/jobs?page=3&size=x&story_id=7&bad_id=z&active=false", nil)

	assert.Equal(t, 3, QueryInt(r, "page", 1))
	assert.Equal(t, 10, QueryInt(r, "size", 10))
	assert.Equal(t, 5, QueryInt(r, "missing", 5))
	assert.False(t, QueryBool(r, "active", true))
	assert.True(t, QueryBool(r, "missing", true))

	id, err := QueryInt64Ptr(r, "story_id")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, int64(7), *id)

	id, err = QueryInt64Ptr(r, "missing")
	require.NoError(t, err)
	assert.Nil(t, id)

	_, err = QueryInt64Ptr(r, "bad_id")
	assert.Error(t, err)
}

func TestRespondProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondProblem(rec, http.StatusConflict, "conflict", "story 1 already has a root node",
		map[string]interface{}{"resource_id": "4"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body["kind"])
	assert.Equal(t, "Conflict", body["title"])
	assert.Equal(t, "4", body["resource_id"])
	assert.EqualValues(t, 409, body["status"])
}

func TestRespondErrorDerivesKind(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusServiceUnavailable, "narration is not configured")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body["kind"])
}
