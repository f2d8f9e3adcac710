package http_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	internal_http "github.com/TheCrowned/Post-SMTP/internal/http"
	"github.com/TheCrowned/Post-SMTP/internal/log"
	"github.com/TheCrowned/Post-SMTP/pkg/mailer"
	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/service"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) (mailer.Result, error) {
	f.sent = append(f.sent, msg)
	return mailer.Result{Duration: 12 * time.Millisecond, Transcript: "250 OK"}, f.err
}

func (f *fakeMailer) TransportURI() string { return "smtp://localhost:25" }

type listBody struct {
	Data []struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Error           string `json:"error"`
		OriginalSubject string `json:"original_subject"`
		Timestamp       int64  `json:"timestamp"`
		Time            string `json:"time"`
	} `json:"data"`
	RecordsTotal    int64 `json:"recordsTotal"`
	RecordsFiltered int64 `json:"recordsFiltered"`
	Draw            int   `json:"draw"`
}

func TestServer(t *testing.T) {
	newServer := func(t *testing.T, m *fakeMailer) (*httptest.Server, storage.Store) {
		store := storage.NewMockStore()
		svc := service.NewLogService(store, log.GetLogger(),
			service.WithMailer(m),
			service.WithLocation(time.UTC),
			service.WithTimeLayout("2006-01-02 15:04"))
		srv := httptest.NewServer(internal_http.NewRouter(svc))
		t.Cleanup(srv.Close)
		return srv, store
	}

	seed := func(t *testing.T, store storage.Store, subject string, ts int64, outcome models.Outcome) int64 {
		id, err := store.Insert(context.Background(), models.LogRecord{
			Solution:        "smtp",
			Success:         outcome,
			FromHeader:      "sender@example.com",
			ToHeader:        "alice@example.com",
			OriginalTo:      "alice@example.com",
			OriginalSubject: subject,
			OriginalMessage: "Hello " + subject,
			Time:            ts,
		})
		require.NoError(t, err)
		return id
	}

	getJSON := func(t *testing.T, url string, out interface{}) int {
		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		return resp.StatusCode
	}

	send := func(t *testing.T, method, url, body string) *http.Response {
		req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	t.Run("HealthCheck", func(t *testing.T) {
		srv, _ := newServer(t, &fakeMailer{})
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "Email log server is running", string(body))
	})

	t.Run("ListEmptyLogs", func(t *testing.T) {
		srv, _ := newServer(t, &fakeMailer{})
		var body listBody
		status := getJSON(t, srv.URL+"/api/logs?draw=3", &body)

		assert.Equal(t, http.StatusOK, status)
		assert.Empty(t, body.Data)
		assert.Equal(t, int64(0), body.RecordsTotal)
		assert.Equal(t, 3, body.Draw)
	})

	t.Run("ListSearchAndPage", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		for i := 1; i <= 5; i++ {
			seed(t, store, fmt.Sprintf("Invoice %d", i), int64(1700000000+i), models.Success())
		}
		seed(t, store, "Welcome", 1700000100, models.Failed("550 mailbox unavailable"))

		var body listBody
		status := getJSON(t, srv.URL+"/api/logs?search=invoice&start=0&length=2&order_by=time&order_dir=desc", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, int64(6), body.RecordsTotal)
		assert.Equal(t, int64(5), body.RecordsFiltered)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "Invoice 5", body.Data[0].OriginalSubject)
		assert.Equal(t, "Invoice 4", body.Data[1].OriginalSubject)
		assert.Equal(t, "success", body.Data[0].Status)
		assert.Equal(t, "2023-11-14 22:13", body.Data[0].Time)

		body = listBody{}
		getJSON(t, srv.URL+"/api/logs?search=welcome", &body)
		require.Len(t, body.Data, 1)
		assert.Equal(t, "failed", body.Data[0].Status)
		assert.Equal(t, "550 mailbox unavailable", body.Data[0].Error)
	})

	t.Run("ListDateRangeCoversWholeDay", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Unix()
		seed(t, store, "before", day-1, models.Success())
		seed(t, store, "morning", day, models.Success())
		seed(t, store, "night", day+86399, models.Success())
		seed(t, store, "after", day+86400, models.Success())

		var body listBody
		status := getJSON(t, srv.URL+"/api/logs?from=2024-03-10&to=2024-03-10&length=-1", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, int64(2), body.RecordsFiltered)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "night", body.Data[0].OriginalSubject)
		assert.Equal(t, "morning", body.Data[1].OriginalSubject)
	})

	t.Run("ListInvalidDate", func(t *testing.T) {
		srv, _ := newServer(t, &fakeMailer{})
		var body map[string]string
		status := getJSON(t, srv.URL+"/api/logs?from=yesterday", &body)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["error"], "invalid date")
	})

	t.Run("ViewLog", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		id := seed(t, store, "Receipt", 1700000000, models.Success())
		_, err := store.Update(context.Background(), id, models.Fields{models.FieldSessionTranscript: "EHLO localhost"})
		require.NoError(t, err)

		var full struct {
			Success bool `json:"success"`
			Data    struct {
				ID              int64  `json:"id"`
				OriginalMessage string `json:"original_message"`
				Time            string `json:"time"`
			} `json:"data"`
		}
		status := getJSON(t, fmt.Sprintf("%s/api/logs/%d", srv.URL, id), &full)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, full.Success)
		assert.Equal(t, id, full.Data.ID)
		assert.Equal(t, "Hello Receipt", full.Data.OriginalMessage)
		assert.Equal(t, "2023-11-14 22:13", full.Data.Time)

		var field struct {
			Data map[string]string `json:"data"`
		}
		status = getJSON(t, fmt.Sprintf("%s/api/logs/%d?type=session_transcript", srv.URL, id), &field)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "EHLO localhost", field.Data["session_transcript"])
	})

	t.Run("ViewErrors", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		id := seed(t, store, "Receipt", 1700000000, models.Success())

		var resp internal_http.ActionResponse
		status := getJSON(t, srv.URL+"/api/logs/999", &resp)
		assert.Equal(t, http.StatusNotFound, status)
		assert.False(t, resp.Success)
		assert.Equal(t, "Error Viewing", resp.Message)

		status = getJSON(t, fmt.Sprintf("%s/api/logs/%d?type=password", srv.URL, id), &resp)
		assert.Equal(t, http.StatusBadRequest, status)

		var bad map[string]string
		status = getJSON(t, srv.URL+"/api/logs/abc", &bad)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("DeleteSelected", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		a := seed(t, store, "a", 1700000000, models.Success())
		b := seed(t, store, "b", 1700000001, models.Success())

		resp := send(t, http.MethodDelete, srv.URL+"/api/logs", fmt.Sprintf(`{"selected":["%d"]}`, a))
		var body internal_http.ActionResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, body.Success)
		assert.Equal(t, "Logs deleted successfully", body.Message)

		_, err := store.GetOne(context.Background(), a)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetOne(context.Background(), b)
		assert.NoError(t, err)

		resp = send(t, http.MethodDelete, srv.URL+"/api/logs", `{"selected":[12345]}`)
		body = internal_http.ActionResponse{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.False(t, body.Success)
		assert.Equal(t, "Error deleting logs", body.Message)
	})

	t.Run("DeleteAll", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		seed(t, store, "a", 1700000000, models.Success())
		seed(t, store, "b", 1700000001, models.Success())

		resp := send(t, http.MethodDelete, srv.URL+"/api/logs", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		all, err := store.GetAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("DeleteRejectsNonNumericIDs", func(t *testing.T) {
		srv, _ := newServer(t, &fakeMailer{})
		resp := send(t, http.MethodDelete, srv.URL+"/api/logs", `{"selected":["1; DROP TABLE"]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Export", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		seed(t, store, "first", 1700000000, models.Success())
		seed(t, store, "second", 1700000060, models.Failed("timeout"))

		resp := send(t, http.MethodPost, srv.URL+"/api/logs/export", `{}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "email-logs.csv")

		rows, err := csv.NewReader(resp.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, service.ExportHeader, rows[0])
		assert.Equal(t, "second", rows[1][9])
		assert.Equal(t, "timeout", rows[1][1])
		assert.Equal(t, "1", rows[2][1])
	})

	t.Run("Resend", func(t *testing.T) {
		m := &fakeMailer{}
		srv, store := newServer(t, m)
		id := seed(t, store, "Receipt", 1700000000, models.Failed("connection refused"))

		resp := send(t, http.MethodPost, fmt.Sprintf("%s/api/logs/%d/resend", srv.URL, id), `{"to":"bob@example.com"}`)
		var body internal_http.ActionResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, body.Success)
		assert.Equal(t, "Your message was delivered (12 ms) to the SMTP server!", body.Message)
		assert.Equal(t, "250 OK", body.Transcript)

		require.Len(t, m.sent, 1)
		assert.Equal(t, []string{"bob@example.com"}, m.sent[0].To)
		assert.Equal(t, "Receipt", m.sent[0].Subject)

		all, err := store.GetAll(context.Background())
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("ResendInvalidRecipient", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		id := seed(t, store, "Receipt", 1700000000, models.Success())

		resp := send(t, http.MethodPost, fmt.Sprintf("%s/api/logs/%d/resend", srv.URL, id), `{"to":"not-an-address"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ResendMissingLog", func(t *testing.T) {
		srv, _ := newServer(t, &fakeMailer{})
		resp := send(t, http.MethodPost, srv.URL+"/api/logs/42/resend", ``)
		var body internal_http.ActionResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Error Resending Email", body.Message)
	})

	t.Run("StorageFailure", func(t *testing.T) {
		srv, store := newServer(t, &fakeMailer{})
		storage.FailOn(store, "list logs", fmt.Errorf("connection reset"))

		var body map[string]string
		status := getJSON(t, srv.URL+"/api/logs", &body)
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Contains(t, body["error"], "connection reset")
	})
}
