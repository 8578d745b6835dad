package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"validity/internal/temporal/models"
	"validity/internal/temporal/service"
	id "validity/pkg/domain"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/requestcontext"
)

// Service runs segment operations for one segmented parent kind.
type Service struct {
	engine *service.Engine
	cfg    Config
	logger *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New derives the parent and segment policies of cfg and registers both
// with engine.
func New(engine *service.Engine, cfg Config, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, errors.New("temporal engine is required")
	}
	parent, seg, err := DerivePolicies(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := engine.Register(parent); err != nil {
		return nil, err
	}
	if _, err := engine.Register(seg); err != nil {
		return nil, err
	}

	s := &Service{engine: engine, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the segmented configuration the service was built from.
func (s *Service) Config() Config {
	return s.cfg
}

// Segments lists every segment of the parent ordered by effective date.
func (s *Service) Segments(ctx context.Context, parentID id.RecordID) ([]*models.Record, error) {
	segments, err := s.engine.Find(ctx, models.Query{
		Kind:     s.cfg.SegmentKind,
		Where:    map[string]string{s.cfg.ParentRelation: parentID.String()},
		Temporal: true,
		Date:     models.QueryAllDates(),
	})
	if err != nil {
		return nil, err
	}
	models.SortByEffective(segments)
	return segments, nil
}

// CurrentSegment returns the segment in effect on date (today when zero).
// Without one it falls back to the soonest future segment, then to the last.
func (s *Service) CurrentSegment(ctx context.Context, parentID id.RecordID, date time.Time) (*models.Record, error) {
	date = s.date(ctx, date)
	segments, err := s.Segments(ctx, parentID)
	if err != nil {
		return nil, err
	}
	current := Current(segments, date)
	if current == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%s %s has no %s records", s.cfg.ParentKind, parentID, s.cfg.SegmentKind))
	}
	return current, nil
}

// LastSegment returns the segment with the latest effective date.
func (s *Service) LastSegment(ctx context.Context, parentID id.RecordID) (*models.Record, error) {
	segments, err := s.Segments(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%s %s has no %s records", s.cfg.ParentKind, parentID, s.cfg.SegmentKind))
	}
	return segments[len(segments)-1], nil
}

// CreateNewSegment splits the segment relevant at eff (today when zero) so
// that a new segment carrying the same data starts at eff. When that segment
// does not start before eff it is returned unchanged.
func (s *Service) CreateNewSegment(ctx context.Context, parentID id.RecordID, eff time.Time) (*service.SaveResult, error) {
	eff = s.date(ctx, eff)
	current, err := s.CurrentSegment(ctx, parentID, eff)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Split(ctx, current, eff)
	if err != nil {
		return nil, err
	}
	if created := res.Record; created.ID != current.ID {
		s.logger.InfoContext(ctx, "segment created",
			"kind", s.cfg.SegmentKind,
			"parent_id", parentID.String(),
			"segment_id", created.ID.String(),
			"effective", s.cfg.Granularity.Format(eff),
		)
	}
	return res, nil
}

// Terminate expires segment at exp (today when zero), deleting it when
// nothing of it would remain.
func (s *Service) Terminate(ctx context.Context, segment *models.Record, exp time.Time) (*service.TerminateResult, error) {
	if segment.Kind != s.cfg.SegmentKind {
		return nil, dErrors.New(dErrors.CodeBadRequest,
			fmt.Sprintf("record of kind %q is not a %s", segment.Kind, s.cfg.SegmentKind))
	}
	return s.engine.Terminate(ctx, segment, s.date(ctx, exp))
}

func (s *Service) date(ctx context.Context, d time.Time) time.Time {
	if d.IsZero() {
		return s.cfg.Granularity.Today(requestcontext.Now(ctx))
	}
	return s.cfg.Granularity.Normalize(d)
}

// Current picks from segments, ordered by effective date, the one containing
// date; else the earliest that starts after date; else the one that starts
// last. It returns nil for no segments.
func Current(segments []*models.Record, date time.Time) *models.Record {
	var future, last *models.Record
	for _, seg := range segments {
		if seg.Period().ContainsDate(date) {
			return seg
		}
		if seg.Effective.After(date) && (future == nil || seg.Effective.Before(future.Effective)) {
			future = seg
		}
		if last == nil || !seg.Effective.Before(last.Effective) {
			last = seg
		}
	}
	if future != nil {
		return future
	}
	return last
}
