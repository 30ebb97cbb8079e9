package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/interview-engine/internal/models"
)

func envelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
}

func TestStartInterviewSendsKeyAndDecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/interviews", r.URL.Path)

		var req models.StartInterviewRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ada", req.ProfileID)

		envelope(w, http.StatusCreated, map[string]interface{}{
			"live":     true,
			"snapshot": map[string]interface{}{"id": "iv-1", "state": "listening", "text_mode": true},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	iv, err := c.StartInterview(context.Background(), "ada")
	require.NoError(t, err)
	require.NotNil(t, iv.Snapshot)
	assert.True(t, iv.Live)
	assert.Equal(t, "iv-1", iv.Snapshot.ID)
	assert.Equal(t, "listening", iv.Snapshot.State)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":{"code":"profile_not_found","message":"profile not found"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").StartInterview(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "profile_not_found", apiErr.Code)
}

func TestListInterviewsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "ada", q.Get("resume_id"))
		assert.Equal(t, "completed", q.Get("status"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Empty(t, q.Get("offset"))

		envelope(w, http.StatusOK, map[string]interface{}{
			"interviews": []map[string]interface{}{{"id": "a"}, {"id": "b"}},
			"count":      2,
		})
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL, "k").ListInterviews(context.Background(), ListOptions{
		ResumeID: "ada",
		Status:   "completed",
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[1].ID)
}

func TestSubmitAnswerDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/interviews/iv-1/answers", r.URL.Path)
		envelope(w, http.StatusOK, models.SubmitAnswerResponse{Accepted: false, Reason: "empty_answer", State: "listening"})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "k").SubmitAnswer(context.Background(), "iv-1", " ")
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, "empty_answer", resp.Reason)
}

func TestHealthWithoutData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, "").Health(context.Background()))
}
