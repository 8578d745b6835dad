package handler

import (
	"validity/internal/temporal/models"
	"validity/internal/temporal/service"
	id "validity/pkg/domain"
	dErrors "validity/pkg/domain-errors"
)

// RecordRequest creates or updates a record. On update, absent fields keep
// their stored values; an empty expiration makes the record open-ended.
type RecordRequest struct {
	Effective  *string           `json:"effective"`
	Expiration *string           `json:"expiration"`
	Attributes map[string]string `json:"attributes"`
	Parents    map[string]string `json:"parents"`
}

// apply copies the request onto rec using the kind's granularity.
func (req *RecordRequest) apply(rec *models.Record, g models.Granularity) error {
	if req.Effective != nil {
		t, err := g.Parse(*req.Effective)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid effective date")
		}
		rec.Effective = t
	}
	if req.Expiration != nil {
		t, err := g.Parse(*req.Expiration)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid expiration date")
		}
		rec.Expiration = t
	}
	for name, value := range req.Attributes {
		rec.SetAttribute(name, value)
	}
	for relation, raw := range req.Parents {
		pid, err := id.ParseRecordID(raw)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid parent "+relation)
		}
		rec.SetParent(relation, pid)
	}
	return nil
}

// DateRequest carries the date of a split, termination or new segment.
// An empty date means today.
type DateRequest struct {
	Date string `json:"date"`
}

type RecordResponse struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Effective  string            `json:"effective"`
	Expiration *string           `json:"expiration"`
	Attributes map[string]string `json:"attributes"`
	Parents    map[string]string `json:"parents"`
}

func toRecordResponse(rec *models.Record, g models.Granularity) RecordResponse {
	resp := RecordResponse{
		ID:         rec.ID.String(),
		Kind:       rec.Kind,
		Effective:  g.Format(rec.Effective),
		Attributes: rec.Attributes,
		Parents:    make(map[string]string, len(rec.Parents)),
	}
	if !rec.Expiration.IsZero() {
		exp := g.Format(rec.Expiration)
		resp.Expiration = &exp
	}
	for relation, pid := range rec.Parents {
		resp.Parents[relation] = pid.String()
	}
	return resp
}

type SaveResponse struct {
	Record        RecordResponse `json:"record"`
	Deleted       bool           `json:"deleted"`
	CascadeErrors []string       `json:"cascade_errors,omitempty"`
}

func toSaveResponse(res *service.SaveResult, g models.Granularity) SaveResponse {
	resp := SaveResponse{
		Record:  toRecordResponse(res.Record, g),
		Deleted: res.Deleted,
	}
	resp.CascadeErrors = errorStrings(res.CascadeErrors)
	return resp
}

func errorStrings(errs []error) []string {
	var out []string
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

type ListResponse struct {
	Records []RecordResponse `json:"records"`
}

type TerminateResponse struct {
	Outcome       string          `json:"outcome"`
	Record        *RecordResponse `json:"record,omitempty"`
	CascadeErrors []string        `json:"cascade_errors,omitempty"`
}

func toTerminateResponse(res *service.TerminateResult, rec *models.Record, g models.Granularity) TerminateResponse {
	resp := TerminateResponse{
		Outcome:       res.Outcome.String(),
		CascadeErrors: errorStrings(res.CascadeErrors),
	}
	if res.Outcome == service.Retained {
		body := toRecordResponse(rec, g)
		resp.Record = &body
	}
	return resp
}
