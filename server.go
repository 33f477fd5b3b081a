package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	"medremind/pkg/boot"
	"medremind/pkg/claims"
	"medremind/pkg/command"
	"medremind/pkg/notify"
	"medremind/pkg/reminders"
)

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type scheduleAlarmRequest struct {
	ID           int64  `json:"id" validate:"required,gt=0"`
	MedicineName string `json:"medicineName"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
	// Epoch milliseconds
	TriggerTimeMillis *int64 `json:"triggerTimeMillis" validate:"required,gte=0"`
}

type alarmResponse struct {
	ID                int64  `json:"id"`
	MedicineName      string `json:"medicineName"`
	Dosage            string `json:"dosage"`
	Instructions      string `json:"instructions,omitempty"`
	TriggerTimeMillis int64  `json:"triggerTimeMillis"`
	Pending           bool   `json:"pending"`
}

type permissionRequest struct {
	Granted *bool `json:"granted" validate:"required"`
}

type permissionResponse struct {
	Granted bool `json:"granted"`
}

type bootRequest struct {
	Signal string `json:"signal" validate:"required"`
}

type bootResponse struct {
	Flagged int `json:"flagged"`
	Rearmed int `json:"rearmed"`
}

type userHookRequest struct {
	UID   string `json:"uid" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

// Router returns the HTTP command surface.
func (a *App) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(a.log))
	router.Use(middleware.Recoverer)

	router.Route("/alarms", func(r chi.Router) {
		r.Get("/", a.listAlarms)
		r.Post("/", a.scheduleAlarm)
		r.Delete("/{id}", a.cancelAlarm)
	})

	router.Get("/events", a.streamEvents)

	router.Route("/notifications", func(r chi.Router) {
		r.Get("/", a.listNotifications)
		r.Delete("/{id}", a.dismissNotification)
	})

	router.Get("/permissions/exact-alarm", a.getExactAlarmPermission)
	router.Put("/permissions/exact-alarm", a.setExactAlarmPermission)

	router.Post("/boot", a.deliverBootSignal)

	if a.claims != nil {
		router.Post("/claims/check", a.checkEmailVerification)
		router.Post("/hooks/user-created", a.userCreated)
		router.Post("/hooks/user-updated", a.userUpdated)
	}

	return router
}

// POST /alarms - Schedules or replaces an alarm
func (a *App) scheduleAlarm(w http.ResponseWriter, r *http.Request) {
	req := &scheduleAlarmRequest{}
	if !a.decode(w, r, req) {
		return
	}

	_, err := a.surface.ScheduleAlarm(r.Context(), req.ID, req.MedicineName, req.Dosage, req.Instructions, *req.TriggerTimeMillis)
	if err != nil {
		code := command.Code(err)
		status := http.StatusInternalServerError
		switch code {
		case command.CodePermissionDenied:
			status = http.StatusForbidden
		case command.CodeInvalidArgument:
			status = http.StatusBadRequest
		}
		respondJSON(w, status, okResponse{OK: false, Error: code})
		return
	}

	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

// DELETE /alarms/{id} - Cancels an alarm; unknown IDs succeed too
func (a *App) cancelAlarm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	_, err := a.surface.CancelAlarm(r.Context(), id)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, okResponse{OK: false, Error: command.Code(err)})
		return
	}

	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

// GET /alarms - Lists the stored alarms
func (a *App) listAlarms(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to list alarms")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: command.CodeInternal})
		return
	}

	res := make([]alarmResponse, len(list))
	for i, rem := range list {
		res[i] = alarmResponse{
			ID:                rem.ID,
			MedicineName:      rem.MedicineName,
			Dosage:            rem.Dosage,
			Instructions:      rem.Instructions,
			TriggerTimeMillis: rem.FireTimeMillis(),
			Pending:           a.scheduler.Pending(rem.ID),
		}
	}
	respondJSON(w, http.StatusOK, res)
}

// GET /events - Streams listener events as server-sent events
func (a *App) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming_unsupported"})
		return
	}

	ch, detach := a.hub.Attach(a.eventBuffer)
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			err := writeEvent(w, e)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Event listener went away")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e reminders.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Event, data)
	return err
}

// GET /notifications - Lists the visible notifications
func (a *App) listNotifications(w http.ResponseWriter, r *http.Request) {
	list := a.tray.List()
	if list == nil {
		list = []notify.Notification{}
	}
	respondJSON(w, http.StatusOK, list)
}

// DELETE /notifications/{id} - Dismisses a notification
func (a *App) dismissNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !a.tray.Dismiss(id) {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getExactAlarmPermission(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, permissionResponse{Granted: a.scheduler.CanScheduleExact()})
}

// PUT /permissions/exact-alarm - Grants or revokes the precise alarm permission
func (a *App) setExactAlarmPermission(w http.ResponseWriter, r *http.Request) {
	req := &permissionRequest{}
	if !a.decode(w, r, req) {
		return
	}
	a.permission.Set(*req.Granted)
	a.log.Info().Bool("granted", *req.Granted).Msg("Exact alarm permission changed")
	respondJSON(w, http.StatusOK, permissionResponse{Granted: a.scheduler.CanScheduleExact()})
}

// POST /boot - Delivers a restart-class signal, then re-arms the flagged alarms
func (a *App) deliverBootSignal(w http.ResponseWriter, r *http.Request) {
	req := &bootRequest{}
	if !a.decode(w, r, req) {
		return
	}

	flagged, err := a.hook.Handle(r.Context(), boot.Signal(req.Signal))
	switch {
	case errors.Is(err, boot.ErrUnknownSignal):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown_signal", Message: err.Error()})
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Boot hook failed")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: command.CodeInternal})
		return
	}

	rearmed, err := a.scheduler.Rearm(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Some alarms could not be re-armed")
	}
	respondJSON(w, http.StatusOK, bootResponse{Flagged: flagged, Rearmed: rearmed})
}

// POST /claims/check - Callable email verification check
func (a *App) checkEmailVerification(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.Caller(r)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Request is not authenticated")
	}

	res, err := a.claims.CheckEmailVerification(r.Context(), caller)
	switch {
	case errors.Is(err, claims.ErrUnauthenticated):
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: "User must be authenticated"})
		return
	case err != nil:
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "Failed to check email verification"})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// POST /hooks/user-created - Sets the initial claims of a new user
func (a *App) userCreated(w http.ResponseWriter, r *http.Request) {
	req := &userHookRequest{}
	if !a.decode(w, r, req) {
		return
	}
	err := a.claims.OnUserCreated(r.Context(), req.UID, req.Email)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /hooks/user-updated - Re-syncs the claims of an updated user
func (a *App) userUpdated(w http.ResponseWriter, r *http.Request) {
	req := &userHookRequest{}
	if !a.decode(w, r, req) {
		return
	}
	err := a.claims.OnUserUpdated(r.Context(), req.UID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode parses and validates the JSON body into dst. On failure it writes a 400 response and returns false.
func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: command.CodeInvalidArgument, Message: "Error parsing request body: " + err.Error()})
		return false
	}
	err = a.validate.Struct(dst)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: command.CodeInvalidArgument, Message: err.Error()})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: command.CodeInvalidArgument, Message: "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs every request and stores a request-scoped logger in the context.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With().
				Str("component", "http").
				Str("requestId", middleware.GetReqID(r.Context())).
				Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(reqLog.WithContext(r.Context())))

			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Request")
		})
	}
}
