package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TheCrowned/Post-SMTP/internal/log"
	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/service"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	"github.com/gorilla/mux"
)

const defaultPageLen = 10

// NewRouter wires the email log admin endpoints.
func NewRouter(svc *service.LogService) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	api := r.PathPrefix("/api/logs").Subrouter()
	api.HandleFunc("", ListLogsHandler(svc)).Methods(http.MethodGet)
	api.HandleFunc("", DeleteLogsHandler(svc)).Methods(http.MethodDelete)
	api.HandleFunc("/export", ExportLogsHandler(svc)).Methods(http.MethodPost)
	api.HandleFunc("/{id}", ViewLogHandler(svc)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/resend", ResendLogHandler(svc)).Methods(http.MethodPost)
	return r
}

func StartServer(port string, svc *service.LogService) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.GetLogger().Infof("Starting email log server on :%s", port)
	return srv.ListenAndServe()
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Email log server is running")
}

// listRow is the listing projection of a record; large text fields are loaded on demand.
type listRow struct {
	ID              int64  `json:"id"`
	Solution        string `json:"solution"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	FromHeader      string `json:"from_header"`
	ToHeader        string `json:"to_header"`
	OriginalSubject string `json:"original_subject"`
	Timestamp       int64  `json:"timestamp"`
	Time            string `json:"time"`
}

type listResponse struct {
	Data            []listRow `json:"data"`
	RecordsTotal    int64     `json:"recordsTotal"`
	RecordsFiltered int64     `json:"recordsFiltered"`
	Draw            int       `json:"draw"`
}

func ListLogsHandler(svc *service.LogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseListQuery(r, svc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		draw, _ := strconv.Atoi(r.URL.Query().Get("draw"))

		page, err := svc.List(r.Context(), q)
		if err != nil {
			log.GetLogger().Errorf("Failed to list email logs: %v", err)
			writeError(w, statusFor(err), fmt.Sprintf("Failed to list email logs: %v", err))
			return
		}
		resp := listResponse{
			Data:            make([]listRow, 0, len(page.Rows)),
			RecordsTotal:    page.Total,
			RecordsFiltered: page.Filtered,
			Draw:            draw,
		}
		for _, rec := range page.Rows {
			row := listRow{
				ID:              rec.ID,
				Solution:        rec.Solution,
				Status:          "success",
				FromHeader:      rec.FromHeader,
				ToHeader:        rec.ToHeader,
				OriginalSubject: rec.OriginalSubject,
				Timestamp:       rec.Time,
				Time:            svc.FormatTime(rec.Time),
			}
			if !rec.Success.IsSuccess() {
				row.Status = "failed"
				row.Error = rec.Success.Detail()
			}
			resp.Data = append(resp.Data, row)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseListQuery(r *http.Request, svc *service.LogService) (models.Query, error) {
	v := r.URL.Query()
	q := models.Query{
		Limit:    defaultPageLen,
		Search:   firstOf(v.Get("search"), v.Get("search[value]")),
		OrderBy:  v.Get("order_by"),
		OrderDir: firstOf(v.Get("order_dir"), v.Get("order[0][dir]")),
	}
	var err error
	if s := v.Get("start"); s != "" {
		if q.Offset, err = strconv.Atoi(s); err != nil || q.Offset < 0 {
			return q, fmt.Errorf("invalid start %q", s)
		}
	}
	if s := v.Get("length"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			return q, fmt.Errorf("invalid length %q", s)
		}
		if q.Limit < 0 {
			q.Limit = models.NoLimit
		}
	}
	if s := v.Get("from"); s != "" {
		from, err := svc.ParseBound(s, false)
		if err != nil {
			return q, err
		}
		q.From = &from
	}
	if s := v.Get("to"); s != "" {
		to, err := svc.ParseBound(s, true)
		if err != nil {
			return q, err
		}
		q.To = &to
	}
	return q, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type selectionRequest struct {
	Selected []json.RawMessage `json:"selected"`
}

// parseSelection reads {"selected": [...]} from the body. No selection means every record.
func parseSelection(r *http.Request) ([]int64, error) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, storage.Invalid("body", "malformed JSON")
	}
	if len(req.Selected) == 0 {
		return []int64{models.AllRecords}, nil
	}
	ids := make([]int64, 0, len(req.Selected))
	for _, raw := range req.Selected {
		id, err := parseID(strings.Trim(string(raw), `"`))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, storage.Invalid("id", "%q is not numeric", s)
	}
	return id, nil
}

func DeleteLogsHandler(svc *service.LogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := parseSelection(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ok, err := svc.Delete(r.Context(), ids)
		if err != nil {
			log.GetLogger().Errorf("Failed to delete email logs: %v", err)
			writeJSON(w, statusFor(err), ActionResponse{Message: "Error deleting logs"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, ActionResponse{Message: "Error deleting logs"})
			return
		}
		writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "Logs deleted successfully"})
	}
}

func ExportLogsHandler(svc *service.LogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := parseSelection(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="email-logs.csv"`)
		n, err := svc.Export(r.Context(), w, ids)
		if err != nil {
			log.GetLogger().Errorf("Failed to export email logs: %v", err)
			// Nothing has been written when the lookup itself failed.
			if n == 0 {
				writeError(w, statusFor(err), fmt.Sprintf("Failed to export email logs: %v", err))
			}
			return
		}
		log.GetLogger().Debugf("Exported %d email logs", n)
	}
}

// recordView is a full record with its time rendered for display.
type recordView struct {
	models.LogRecord
	Time string `json:"time"`
}

func ViewLogHandler(svc *service.LogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		field := r.URL.Query().Get("type")

		var data interface{}
		if field == "" || field == models.FieldOriginalMessage {
			rec, err := svc.Get(r.Context(), id)
			if err != nil {
				viewFailed(w, err)
				return
			}
			data = recordView{LogRecord: rec, Time: svc.FormatTime(rec.Time)}
		} else {
			v, err := svc.GetField(r.Context(), id, field)
			if err != nil {
				viewFailed(w, err)
				return
			}
			data = map[string]string{field: v}
		}
		writeJSON(w, http.StatusOK, ActionResponse{Success: true, Data: data})
	}
}

func viewFailed(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.GetLogger().Errorf("Failed to view email log: %v", err)
	}
	msg := "Error Viewing"
	if status == http.StatusBadRequest {
		msg = err.Error()
	}
	writeJSON(w, status, ActionResponse{Message: msg})
}

type resendRequest struct {
	To string `json:"to"`
}

func ResendLogHandler(svc *service.LogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var req resendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "malformed JSON")
			return
		}
		res, err := svc.Resend(r.Context(), id, req.To)
		if err != nil {
			status := statusFor(err)
			msg := "Error Resending Email"
			if status == http.StatusBadRequest {
				msg = err.Error()
			} else {
				log.GetLogger().Errorf("Failed to resend email log %d: %v", id, err)
			}
			writeJSON(w, status, ActionResponse{Message: msg})
			return
		}
		writeJSON(w, http.StatusOK, ActionResponse{
			Success:    res.Success,
			Message:    res.Message,
			Transcript: res.Transcript,
		})
	}
}
