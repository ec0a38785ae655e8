package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/paircomms/msg-gateway/internal/core"
	"github.com/paircomms/msg-gateway/internal/upload"
)

type Server struct {
	Service  *core.Service
	Receiver *upload.Receiver
	Throttle *IPThrottle
	Log      *zap.Logger
}

func NewServer(svc *core.Service, recv *upload.Receiver, throttle *IPThrottle, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Service: svc, Receiver: recv, Throttle: throttle, Log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer, instrument)
	if s.Throttle != nil {
		r.Use(s.Throttle.Handler)
	}

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"Status": "Running"})
	})
	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)

	r.Route("/api/messages", func(r chi.Router) {
		r.Post("/", s.postMessage)
		r.Get("/", s.listMessages)
		r.Delete("/{id}", s.deleteMessage)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var from, to, body string
	var file *core.FileRef

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		// Cap the body before reading it; the receiver's own limit only
		// guards the copy to disk.
		maxBody := s.Receiver.MaxBytes + 64<<10
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := r.ParseMultipartForm(maxBody); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_multipart"})
			return
		}
		from, to, body = r.FormValue("from"), r.FormValue("to"), r.FormValue("message")
		_, fh, err := r.FormFile("image")
		switch {
		case err == nil:
			ref, err := s.Receiver.Store(fh)
			if err != nil {
				if errors.Is(err, upload.ErrTooLarge) {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "upload_too_large"})
					return
				}
				s.Log.Error("store upload", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
				return
			}
			file = ref
		case errors.Is(err, http.ErrMissingFile):
			// text-only submission
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_multipart"})
			return
		}
	} else {
		var in struct {
			From    string `json:"from"`
			To      string `json:"to"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
			return
		}
		from, to, body = in.From, in.To, in.Message
	}

	msg, err := s.Service.Submit(r.Context(), from, to, body, file)
	if err != nil {
		if file != nil {
			s.Receiver.Discard(file)
		}
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Both throttle rejections share the 429 status; the error code keeps them
// distinguishable for clients.
func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "rate_limited",
			"message": "Maximum amount of API requests reached for the given 'from' phone number.",
		})
	case errors.Is(err, core.ErrCooldownActive):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "cooldown_active",
			"message": "Too many requests. Please wait before sending another message.",
		})
	case core.IsCallerError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorCode(err)})
	default:
		// Internal cause stays in the logs; the caller gets an opaque fault.
		s.Log.Error("submission failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}

func errorCode(err error) string {
	for _, sentinel := range []error{
		core.ErrDuplicateAttachment, core.ErrUnsupportedMediaType,
		core.ErrInvalidPhone, core.ErrEmptyBody, core.ErrBodyTooLong,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "bad_request"
}

// Phone filters may arrive without the leading + (it is %-escaped in query
// strings); put it back.
func plusPrefixed(v string) string {
	if v != "" && !strings.HasPrefix(v, "+") {
		return "+" + v
	}
	return v
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	f := core.ListFilter{
		From:   plusPrefixed(r.URL.Query().Get("from")),
		To:     plusPrefixed(r.URL.Query().Get("to")),
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 10),
		Offset: queryInt(r, "offset", 0),
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 10
	}

	items, total, err := s.Service.Store.ListMessages(r.Context(), f)
	if err != nil {
		s.Log.Error("list messages", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if items == nil {
		items = []core.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": total, "items": items, "limit": f.Limit, "offset": f.Offset})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message_not_found"})
		return
	}
	if err := s.Service.Store.MarkDeleted(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "message_not_found"})
			return
		}
		s.Log.Error("delete message", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
