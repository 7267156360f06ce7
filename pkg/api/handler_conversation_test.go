package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

// Validation-only tests: each exercises a rejection path that returns before
// the coordinator is touched. Full flows are covered by the e2e suite.

func TestStartConversationHandler_Validation(t *testing.T) {
	s := &Server{}

	t.Run("missing identity header returns 401", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.startConversationHandler(c)
		if assert.Error(t, err) {
			he, ok := err.(*echo.HTTPError)
			if assert.True(t, ok, "expected echo.HTTPError") {
				assert.Equal(t, http.StatusUnauthorized, he.Code)
			}
		}
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{"attributes": 12}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Participant-Id", "cust-1")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.startConversationHandler(c)
		if assert.Error(t, err) {
			he, ok := err.(*echo.HTTPError)
			if assert.True(t, ok) {
				assert.Equal(t, http.StatusBadRequest, he.Code)
			}
		}
	})
}

func TestQueueConversationHandler_Validation(t *testing.T) {
	s := &Server{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations//queue", strings.NewReader(`{"channel":"web"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.queueConversationHandler(c)
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		if assert.True(t, ok) {
			assert.Equal(t, http.StatusBadRequest, he.Code)
			assert.Contains(t, he.Message, "conversation id")
		}
	}
}

func TestListMessagesHandler_Validation(t *testing.T) {
	s := &Server{}

	t.Run("missing conversation id returns 400", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/conversations//messages", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.listMessagesHandler(c)
		if assert.Error(t, err) {
			he, ok := err.(*echo.HTTPError)
			if assert.True(t, ok) {
				assert.Equal(t, http.StatusBadRequest, he.Code)
			}
		}
	})

	t.Run("non-numeric limit returns 400", func(t *testing.T) {
		e := echo.New()
		e.GET("/api/conversations/:id/messages", s.listMessagesHandler)
		req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages?limit=lots", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid limit")
	})

	t.Run("negative limit returns 400", func(t *testing.T) {
		e := echo.New()
		e.GET("/api/conversations/:id/messages", s.listMessagesHandler)
		req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages?limit=-5", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPostMessageHandler_Validation(t *testing.T) {
	s := &Server{}

	post := func(body string) *httptest.ResponseRecorder {
		e := echo.New()
		e.POST("/api/conversations/:id/messages", s.postMessageHandler)
		req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/messages", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing senderId returns 422", func(t *testing.T) {
		rec := post(`{"senderType":"CUSTOMER","content":"hi"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "senderId")
	})

	t.Run("system sender is rejected", func(t *testing.T) {
		rec := post(`{"senderId":"x","senderType":"SYSTEM","content":"hi"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "senderType")
	})

	t.Run("unknown sender type is rejected", func(t *testing.T) {
		rec := post(`{"senderId":"x","senderType":"ROBOT","content":"hi"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		rec := post(`{"content": 7}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCloseConversationHandler_Validation(t *testing.T) {
	s := &Server{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/conversations/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.closeConversationHandler(c)
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		if assert.True(t, ok) {
			assert.Equal(t, http.StatusBadRequest, he.Code)
		}
	}
}
