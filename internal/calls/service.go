package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/identity"
	"call-signaling/internal/telemetry"
	"call-signaling/pkg/logger"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxRoomAttempts bounds room id regeneration on collision.
const maxRoomAttempts = 3

// Auditor receives one event per committed transition. Failures are logged only.
type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
	Trail(ctx context.Context, callID string) ([]audit.Event, error)
}

type Options struct {
	Notifier  Notifier
	Audit     Auditor
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	NewRoomID func() string
	Clock     func() time.Time
}

// Service runs the call state machine against the store.
//
// Every transition reads the call fresh, plans it with Plan and commits it
// with a single compare-and-swap on the observed status. Notifications and
// audit run only after the commit and can never undo or fail it.
type Service struct {
	repo      Repository
	dir       identity.Directory
	notifier  Notifier
	audit     Auditor
	metrics   *telemetry.Metrics
	log       *slog.Logger
	tracer    trace.Tracer
	newRoomID func() string
	newID     func() string
	clock     func() time.Time
}

func NewService(repo Repository, dir identity.Directory, opts Options) *Service {
	s := &Service{
		repo:      repo,
		dir:       dir,
		notifier:  opts.Notifier,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		log:       logger.OrDiscard(opts.Logger),
		tracer:    otel.Tracer("call-signaling/calls"),
		newRoomID: opts.NewRoomID,
		newID:     uuid.NewString,
		clock:     opts.Clock,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.newRoomID == nil {
		s.newRoomID = NewRoomID
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// NewRoomID returns an opaque, unique room identifier for the RTC provider.
func NewRoomID() string {
	return "room_" + ulid.Make().String()
}

type InitiateRequest struct {
	CallerID   string
	ReceiverID string
	Type       CallType
	Metadata   json.RawMessage
}

// Initiate creates a call in status initiated and notifies the receiver.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (Call, error) {
	ctx, span := s.tracer.Start(ctx, "calls.initiate")
	defer span.End()

	c, err := s.initiate(ctx, req)
	s.observe(span, TransitionInitiate, c.ID, err, false)
	return c, err
}

func (s *Service) initiate(ctx context.Context, req InitiateRequest) (Call, error) {
	callerID := strings.TrimSpace(req.CallerID)
	receiverID := strings.TrimSpace(req.ReceiverID)
	if callerID == "" || receiverID == "" || !req.Type.Valid() {
		return Call{}, ErrInvalidArgument
	}
	if callerID == receiverID {
		return Call{}, ErrInvalidParticipants
	}
	meta, err := normalizeMetadata(req.Metadata)
	if err != nil {
		return Call{}, err
	}
	if _, err := s.lookupUser(ctx, "caller", callerID); err != nil {
		return Call{}, err
	}
	if _, err := s.lookupUser(ctx, "receiver", receiverID); err != nil {
		return Call{}, err
	}

	now := s.clock().UTC()
	for attempt := 1; attempt <= maxRoomAttempts; attempt++ {
		created, err := s.repo.Create(ctx, Call{
			ID:         s.newID(),
			RoomID:     s.newRoomID(),
			CallerID:   callerID,
			ReceiverID: receiverID,
			Type:       req.Type,
			Status:     StatusInitiated,
			Metadata:   meta,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if errors.Is(err, ErrDuplicateRoomID) {
			s.log.Warn("room id collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return Call{}, err
		}

		s.record(ctx, TransitionInitiate, created, UserActor(callerID), "")
		s.notify(ctx, TransitionEvent{Kind: EventInitiated, Call: created, ActorID: callerID, TargetID: receiverID})
		return created, nil
	}
	return Call{}, ErrCouldNotAllocateRoom
}

// Accept moves an initiated call to accepted. Receiver only.
func (s *Service) Accept(ctx context.Context, callID, userID string) (Call, error) {
	c, _, err := s.apply(ctx, TransitionAccept, callID, UserActor(userID))
	return c, err
}

// Reject moves an initiated (or ringing) call to rejected. Receiver only.
func (s *Service) Reject(ctx context.Context, callID, userID string) (Call, error) {
	c, _, err := s.apply(ctx, TransitionReject, callID, UserActor(userID))
	return c, err
}

type EndResult struct {
	Call Call
	// AlreadyEnded is set when the call was ended before this request; nothing was written.
	AlreadyEnded bool
}

// End ends a non-terminal call. Either participant may end; ending an ended
// call succeeds without writing or notifying.
func (s *Service) End(ctx context.Context, callID, userID string) (EndResult, error) {
	c, d, err := s.apply(ctx, TransitionEnd, callID, UserActor(userID))
	if err != nil {
		return EndResult{}, err
	}
	return EndResult{Call: c, AlreadyEnded: d.Noop}, nil
}

func (s *Service) apply(ctx context.Context, t Transition, callID string, actor Actor) (Call, Decision, error) {
	ctx, span := s.tracer.Start(ctx, "calls."+string(t), trace.WithAttributes(attribute.String("call.id", callID)))
	defer span.End()

	c, d, err := s.transition(ctx, t, callID, actor, "")
	s.observe(span, t, callID, err, d.Noop)
	return c, d, err
}

// transition is the single read, plan, compare-and-swap path. When only is
// set the call must still be in that status or the transition is skipped
// with ErrConflict.
func (s *Service) transition(ctx context.Context, t Transition, callID string, actor Actor, only Status) (Call, Decision, error) {
	if strings.TrimSpace(callID) == "" {
		return Call{}, Decision{}, ErrInvalidArgument
	}
	current, err := s.repo.FindByID(ctx, callID)
	if err != nil {
		return Call{}, Decision{}, err
	}
	if only != "" && current.Status != only {
		return current, Decision{}, ErrConflict
	}

	d, err := Plan(t, current, actor, s.clock())
	if err != nil {
		return current, Decision{}, err
	}
	if d.Noop {
		return current, d, nil
	}

	updated, err := s.repo.UpdateIfStatus(ctx, current.ID, d.From, d.Patch)
	if err != nil {
		return Call{}, d, err
	}

	s.record(ctx, t, updated, actor, d.From)
	kind := eventKindFor(t)
	if actor.System {
		// Nobody in particular ended it; tell both sides.
		s.notify(ctx, TransitionEvent{Kind: kind, Call: updated, ActorID: updated.CallerID, TargetID: updated.ReceiverID})
		s.notify(ctx, TransitionEvent{Kind: kind, Call: updated, ActorID: updated.ReceiverID, TargetID: updated.CallerID})
	} else {
		s.notify(ctx, TransitionEvent{Kind: kind, Call: updated, ActorID: actor.UserID, TargetID: updated.Counterpart(actor.UserID)})
	}
	return updated, d, nil
}

// Details returns a call to one of its participants.
func (s *Service) Details(ctx context.Context, callID, userID string) (Call, error) {
	c, err := s.repo.FindByID(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if !c.IsParticipant(userID) {
		return Call{}, ErrUnauthorized
	}
	return c, nil
}

// Timeline returns the recorded transitions of a call to one of its
// participants, oldest first. Empty when auditing is off.
func (s *Service) Timeline(ctx context.Context, callID, userID string) ([]audit.Event, error) {
	if _, err := s.Details(ctx, callID, userID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []audit.Event{}, nil
	}
	events, err := s.audit.Trail(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("call timeline: %w", err)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}

// AuthorizeRoom returns the call owning roomID if userID takes part in it.
// Used before issuing RTC credentials for an existing room.
func (s *Service) AuthorizeRoom(ctx context.Context, roomID, userID string) (Call, error) {
	if strings.TrimSpace(roomID) == "" {
		return Call{}, ErrInvalidArgument
	}
	c, err := s.repo.FindByRoomID(ctx, roomID)
	if err != nil {
		return Call{}, err
	}
	if !c.IsParticipant(userID) {
		return Call{}, ErrUnauthorized
	}
	return c, nil
}

func (s *Service) ActiveCalls(ctx context.Context, userID string) ([]Call, error) {
	return s.repo.ListActiveForUser(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID string, page Page) (PageResult, error) {
	return s.repo.ListHistoryForUser(ctx, userID, page)
}

type Availability struct {
	User          identity.User
	IsAvailable   bool
	HasActiveCall bool
}

// Availability reports whether target is online and not in an active call.
// It is a fresh read of both the directory and the store.
func (s *Service) Availability(ctx context.Context, targetID string) (Availability, error) {
	u, err := s.lookupUser(ctx, "user", targetID)
	if err != nil {
		return Availability{}, err
	}
	active, err := s.repo.ListActiveForUser(ctx, u.ID)
	if err != nil {
		return Availability{}, err
	}
	busy := len(active) > 0
	return Availability{User: u, IsAvailable: u.IsOnline && !busy, HasActiveCall: busy}, nil
}

func (s *Service) lookupUser(ctx context.Context, role, id string) (identity.User, error) {
	u, err := s.dir.FindByID(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, fmt.Errorf("%s %s: %w", role, id, ErrNotFound)
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("lookup %s: %w", role, err)
	}
	return u, nil
}

func (s *Service) record(ctx context.Context, t Transition, c Call, actor Actor, from Status) {
	if s.audit == nil {
		return
	}
	e := audit.Event{
		CallID:      c.ID,
		Type:        auditType(t),
		ActorUserID: actor.UserID,
		FromStatus:  string(from),
		ToStatus:    string(c.Status),
	}
	if actor.System {
		e.Type = audit.EventTypeSwept
		e.Message = "stale initiated call ended by sweep"
	}
	// The transition is committed; a client hanging up must not drop its record.
	if err := s.audit.Append(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn("audit append failed", "call_id", c.ID, "transition", string(t), "err", err)
	}
}

// notify hands the event to the notifier. A panicking notifier is contained
// here: the transition is already committed.
func (s *Service) notify(ctx context.Context, ev TransitionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("notifier panicked", "call_id", ev.Call.ID, "event", string(ev.Kind), "target_id", ev.TargetID, "panic", r)
		}
	}()
	s.notifier.Dispatch(ctx, ev)
}

func (s *Service) observe(span trace.Span, t Transition, callID string, err error, noop bool) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = Kind(err)
		span.SetStatus(codes.Error, err.Error())
	case noop:
		outcome = "noop"
	}
	span.SetAttributes(attribute.String("call.transition", string(t)), attribute.String("call.outcome", outcome))
	s.metrics.ObserveTransition(string(t), outcome)

	if err != nil && Kind(err) == "internal" {
		s.log.Error("call transition failed", "transition", string(t), "call_id", callID, "err", err)
	}
}

func auditType(t Transition) audit.EventType {
	switch t {
	case TransitionInitiate:
		return audit.EventTypeInitiated
	case TransitionAccept:
		return audit.EventTypeAccepted
	case TransitionReject:
		return audit.EventTypeRejected
	default:
		return audit.EventTypeEnded
	}
}

// normalizeMetadata accepts an absent payload or a JSON object.
func normalizeMetadata(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", ErrInvalidArgument)
	}
	return append(json.RawMessage(nil), trimmed...), nil
}
