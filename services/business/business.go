package business

import (
	"errors"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
)

const AggregateType = "Business"

const (
	EventBusinessEnrolled = "BusinessEnrolled"
	EventBusinessUpdated  = "BusinessUpdated"
	EventBusinessDeleted  = "BusinessDeleted"
)

var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrBusinessExists   = errors.New("business already enrolled")
	ErrBusinessDeleted  = errors.New("business deleted")
)

func BusinessNotFound(id string) error {
	return errutil.NotFound(fmt.Sprintf("business %s does not exist", id), ErrBusinessNotFound)
}

type Envelope struct {
	RequestID  string `json:"request_id" validate:"required,max=64"`
	BusinessID string `json:"business_id" validate:"required,max=64"`
}

func (e Envelope) envelope() Envelope { return e }

type Command interface {
	envelope() Envelope
}

type EnrollBusiness struct {
	Envelope
	Name string `json:"name" validate:"required,max=255"`
}

type UpdateBusiness struct {
	Envelope
	Name string `json:"name" validate:"required,max=255"`
}

type DeleteBusiness struct {
	Envelope
}

type Event interface {
	es.Event
	businessEvent()
}

type BusinessEnrolled struct {
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Timestamp  time.Time `json:"timestamp"`
}

type BusinessUpdated struct {
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Timestamp  time.Time `json:"timestamp"`
}

type BusinessDeleted struct {
	BusinessID string    `json:"business_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func (BusinessEnrolled) EventName() string { return EventBusinessEnrolled }
func (BusinessUpdated) EventName() string  { return EventBusinessUpdated }
func (BusinessDeleted) EventName() string  { return EventBusinessDeleted }

func (BusinessEnrolled) businessEvent() {}
func (BusinessUpdated) businessEvent()  {}
func (BusinessDeleted) businessEvent()  {}

func DecodeEvent(rec es.Record) (Event, error) {
	switch rec.EventType {
	case EventBusinessEnrolled:
		return decode[BusinessEnrolled](rec)
	case EventBusinessUpdated:
		return decode[BusinessUpdated](rec)
	case EventBusinessDeleted:
		return decode[BusinessDeleted](rec)
	default:
		return nil, es.UnknownEvent(rec)
	}
}

func decode[T Event](rec es.Record) (Event, error) {
	ev, err := es.Decode[T](rec)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

type State struct {
	BusinessID string
	Name       string
	Enrolled   bool
	Deleted    bool
}

func Apply(s State, ev Event) State {
	switch e := ev.(type) {
	case BusinessEnrolled:
		s.Enrolled = true
		s.Name = e.Name
	case BusinessUpdated:
		s.Name = e.Name
	case BusinessDeleted:
		s.Deleted = true
	}
	return s
}

func Replay(businessID string, records []es.Record) (State, error) {
	state := State{BusinessID: businessID}
	for _, rec := range records {
		ev, err := DecodeEvent(rec)
		if err != nil {
			return State{}, errutil.Internal(fmt.Sprintf("business %s has an unreadable event at sequence %d", businessID, rec.Sequence), err)
		}
		state = Apply(state, ev)
	}
	return state, nil
}

var Aggregate = es.Aggregate[State, Event]{
	Type:   AggregateType,
	Replay: Replay,
}

func Decide(s State, cmd Command, now time.Time) ([]Event, error) {
	id := cmd.envelope().BusinessID

	if c, ok := cmd.(EnrollBusiness); ok {
		if s.Deleted {
			return nil, errutil.Gone(fmt.Sprintf("business %s was deleted", id), ErrBusinessDeleted)
		}
		if s.Enrolled {
			return nil, errutil.Conflict(fmt.Sprintf("business %s already enrolled", id), ErrBusinessExists)
		}
		return []Event{BusinessEnrolled{BusinessID: id, Name: c.Name, Timestamp: now}}, nil
	}

	if !s.Enrolled {
		return nil, BusinessNotFound(id)
	}
	if s.Deleted {
		return nil, errutil.Gone(fmt.Sprintf("business %s was deleted", id), ErrBusinessDeleted)
	}

	switch c := cmd.(type) {
	case UpdateBusiness:
		if c.Name == s.Name {
			return nil, nil
		}
		return []Event{BusinessUpdated{BusinessID: id, Name: c.Name, Timestamp: now}}, nil
	case DeleteBusiness:
		return []Event{BusinessDeleted{BusinessID: id, Timestamp: now}}, nil
	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unsupported business command %T", cmd), nil)
	}
}
