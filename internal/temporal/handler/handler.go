// Package handler exposes the temporal engine over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"validity/internal/temporal/models"
	"validity/internal/temporal/segment"
	"validity/internal/temporal/service"
	id "validity/pkg/domain"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/platform/httputil"
)

// Handler serves record and segment endpoints.
type Handler struct {
	engine   *service.Engine
	segments map[string]*segment.Service
	logger   *slog.Logger
}

// New builds a handler. Segment services are addressed by their parent kind.
func New(engine *service.Engine, segments []*segment.Service, logger *slog.Logger) *Handler {
	h := &Handler{
		engine:   engine,
		segments: make(map[string]*segment.Service, len(segments)),
		logger:   logger,
	}
	for _, s := range segments {
		h.segments[s.Config().ParentKind] = s
	}
	return h
}

// Register mounts the API on r. writeMiddleware wraps only the routes that
// change records.
func (h *Handler) Register(r chi.Router, writeMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/kinds/{kind}/records", h.HandleFind)
		r.Get("/kinds/{kind}/records/{id}", h.HandleGet)
		r.Get("/segments/{kind}/{parentID}/current", h.HandleCurrentSegment)

		r.Group(func(r chi.Router) {
			r.Use(writeMiddleware...)
			r.Post("/kinds/{kind}/records", h.HandleCreate)
			r.Put("/kinds/{kind}/records/{id}", h.HandleUpdate)
			r.Delete("/kinds/{kind}/records/{id}", h.HandleDelete)
			r.Post("/kinds/{kind}/records/{id}/split", h.HandleSplit)
			r.Post("/kinds/{kind}/records/{id}/terminate", h.HandleTerminate)
			r.Post("/segments/{kind}/{parentID}", h.HandleCreateSegment)
		})
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pol, err := h.policy(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[RecordRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	g := pol.Config().Granularity
	rec := models.NewRecord(pol.Config().Kind, models.TimePeriod{})
	if err := req.apply(rec, g); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.engine.Save(ctx, rec)
	if err != nil {
		h.logFailure(r, "create record failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toSaveResponse(res, g))
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pol, rec, err := h.load(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.DecodeJSON[RecordRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	g := pol.Config().Granularity
	if err := req.apply(rec, g); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.engine.Save(ctx, rec)
	if err != nil {
		h.logFailure(r, "update record failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSaveResponse(res, g))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	pol, rec, err := h.load(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec, pol.Config().Granularity))
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	_, rec, err := h.load(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.engine.Delete(r.Context(), rec.ID); err != nil {
		h.logFailure(r, "delete record failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFind runs a temporal query. as_of selects the date ("all" disables
// the date filter, absent means today); every other parameter is a field filter.
func (h *Handler) HandleFind(w http.ResponseWriter, r *http.Request) {
	pol, err := h.policy(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	g := pol.Config().Granularity

	q := models.Query{Kind: pol.Config().Kind, Temporal: true, Where: map[string]string{}}
	params := r.URL.Query()
	switch asOf := params.Get("as_of"); asOf {
	case "":
		q.Date = models.QueryToday()
	case "all":
		q.Date = models.QueryAllDates()
	default:
		d, err := g.Parse(asOf)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid as_of date"))
			return
		}
		q.Date = models.QueryAt(d)
	}
	for field := range params {
		if field != "as_of" {
			q.Where[field] = params.Get(field)
		}
	}

	records, err := h.engine.Find(r.Context(), q)
	if err != nil {
		h.logFailure(r, "query records failed", err)
		httputil.WriteError(w, err)
		return
	}
	resp := ListResponse{Records: make([]RecordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, toRecordResponse(rec, g))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleSplit(w http.ResponseWriter, r *http.Request) {
	pol, rec, err := h.load(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	g := pol.Config().Granularity
	date, err := decodeDate(r, g)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	original := rec.ID

	res, err := h.engine.Split(r.Context(), rec, date)
	if err != nil {
		h.logFailure(r, "split record failed", err)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Record.ID == original {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toSaveResponse(res, g))
}

func (h *Handler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	pol, rec, err := h.load(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	g := pol.Config().Granularity
	date, err := decodeDate(r, g)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.engine.Terminate(r.Context(), rec, date)
	if err != nil {
		h.logFailure(r, "terminate record failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTerminateResponse(res, rec, g))
}

func (h *Handler) HandleCurrentSegment(w http.ResponseWriter, r *http.Request) {
	svc, parentID, err := h.segmentTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	g := svc.Config().Granularity
	date, err := g.Parse(r.URL.Query().Get("date"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid date"))
		return
	}

	current, err := svc.CurrentSegment(r.Context(), parentID, date)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(current, g))
}

func (h *Handler) HandleCreateSegment(w http.ResponseWriter, r *http.Request) {
	svc, parentID, err := h.segmentTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	g := svc.Config().Granularity
	date, err := decodeDate(r, g)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	existing, err := svc.CurrentSegment(r.Context(), parentID, date)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := svc.CreateNewSegment(r.Context(), parentID, date)
	if err != nil {
		h.logFailure(r, "create segment failed", err)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Record.ID == existing.ID {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toSaveResponse(res, g))
}

func (h *Handler) policy(r *http.Request) (*service.Policy, error) {
	kind := chi.URLParam(r, "kind")
	pol, ok := h.engine.Policy(kind)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown kind "+kind)
	}
	return pol, nil
}

// load resolves the kind and record of the URL. A record of another kind is
// reported as missing.
func (h *Handler) load(r *http.Request) (*service.Policy, *models.Record, error) {
	pol, err := h.policy(r)
	if err != nil {
		return nil, nil, err
	}
	recordID, err := id.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		return nil, nil, err
	}
	rec, err := h.engine.Get(r.Context(), recordID)
	if err != nil {
		return nil, nil, err
	}
	if rec.Kind != pol.Config().Kind {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "record "+recordID.String()+" not found")
	}
	return pol, rec, nil
}

func (h *Handler) segmentTarget(r *http.Request) (*segment.Service, id.RecordID, error) {
	kind := chi.URLParam(r, "kind")
	svc, ok := h.segments[kind]
	if !ok {
		return nil, id.RecordID{}, dErrors.New(dErrors.CodeNotFound, "no segmented kind "+kind)
	}
	parentID, err := id.ParseRecordID(chi.URLParam(r, "parentID"))
	if err != nil {
		return nil, id.RecordID{}, err
	}
	return svc, parentID, nil
}

// decodeDate reads an optional DateRequest body; no body means today.
func decodeDate(r *http.Request, g models.Granularity) (time.Time, error) {
	if r.ContentLength == 0 {
		return time.Time{}, nil
	}
	req, err := httputil.DecodeJSON[DateRequest](r)
	if err != nil {
		return time.Time{}, err
	}
	d, err := g.Parse(req.Date)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid date")
	}
	return d, nil
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return
	}
	h.logger.ErrorContext(r.Context(), msg,
		"kind", chi.URLParam(r, "kind"),
		"path", r.URL.Path,
		"error", err,
	)
}
