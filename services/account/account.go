package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
)

const AggregateType = "Account"

const (
	EventAccountCreated = "AccountCreated"
	EventAccountUpdated = "AccountUpdated"
	EventAccountDeleted = "AccountDeleted"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountDeleted  = errors.New("account deleted")
	ErrEmailTaken      = errors.New("email already registered")
)

func AccountNotFound(id string) error {
	return errutil.NotFound(fmt.Sprintf("account %s does not exist", id), ErrAccountNotFound)
}

func emailTaken(email string) error {
	return errutil.Conflict(fmt.Sprintf("email %s is already registered", email), ErrEmailTaken)
}

type Envelope struct {
	RequestID string `json:"request_id" validate:"required,max=64"`
	AccountID string `json:"account_id" validate:"required,max=64"`
}

func (e Envelope) envelope() Envelope { return e }

type Command interface {
	envelope() Envelope
}

type CreateAccount struct {
	Envelope
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
}

// UpdateAccount replaces the fields that are set.
type UpdateAccount struct {
	Envelope
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"omitempty,email,max=255"`
}

type DeleteAccount struct {
	Envelope
}

// RollbackAccountCreation undoes a creation made by the creation saga. It is
// a no-op for an account that was never created, is already deleted or was
// created under another request id.
type RollbackAccountCreation struct {
	Envelope
}

type Event interface {
	es.Event
	accountEvent()
}

type AccountCreated struct {
	AccountID string    `json:"account_id"`
	RequestID string    `json:"request_id,omitempty"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

type AccountUpdated struct {
	AccountID string    `json:"account_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

type AccountDeleted struct {
	AccountID string    `json:"account_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (AccountCreated) EventName() string { return EventAccountCreated }
func (AccountUpdated) EventName() string { return EventAccountUpdated }
func (AccountDeleted) EventName() string { return EventAccountDeleted }

func (AccountCreated) accountEvent() {}
func (AccountUpdated) accountEvent() {}
func (AccountDeleted) accountEvent() {}

func DecodeEvent(rec es.Record) (Event, error) {
	switch rec.EventType {
	case EventAccountCreated:
		return decode[AccountCreated](rec)
	case EventAccountUpdated:
		return decode[AccountUpdated](rec)
	case EventAccountDeleted:
		return decode[AccountDeleted](rec)
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
	AccountID string
	FirstName string
	LastName  string
	Email     string
	Created   bool
	Deleted   bool
	// CreatedBy is the request id that created the account.
	CreatedBy string
}

func Apply(s State, ev Event) State {
	switch e := ev.(type) {
	case AccountCreated:
		s.Created = true
		s.CreatedBy = e.RequestID
		s.FirstName, s.LastName, s.Email = e.FirstName, e.LastName, e.Email
	case AccountUpdated:
		s.FirstName, s.LastName, s.Email = e.FirstName, e.LastName, e.Email
	case AccountDeleted:
		s.Deleted = true
	}
	return s
}

func Replay(accountID string, records []es.Record) (State, error) {
	state := State{AccountID: accountID}
	for _, rec := range records {
		ev, err := DecodeEvent(rec)
		if err != nil {
			return State{}, errutil.Internal(fmt.Sprintf("account %s has an unreadable event at sequence %d", accountID, rec.Sequence), err)
		}
		if c, ok := ev.(AccountCreated); ok && c.RequestID == "" {
			c.RequestID = rec.RequestID
			ev = c
		}
		state = Apply(state, ev)
	}
	return state, nil
}

var Aggregate = es.Aggregate[State, Event]{
	Type:   AggregateType,
	Replay: Replay,
}

// NormalizeEmail is the form emails are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func Decide(s State, cmd Command, now time.Time) ([]Event, error) {
	id := cmd.envelope().AccountID

	switch c := cmd.(type) {
	case CreateAccount:
		if s.Deleted {
			return nil, errutil.Gone(fmt.Sprintf("account %s was deleted", id), ErrAccountDeleted)
		}
		if s.Created {
			return nil, errutil.Conflict(fmt.Sprintf("account %s already exists", id), ErrAccountExists)
		}
		return []Event{AccountCreated{
			AccountID: id,
			RequestID: c.RequestID,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Email:     NormalizeEmail(c.Email),
			Timestamp: now,
		}}, nil

	case RollbackAccountCreation:
		if !s.Created || s.Deleted || s.CreatedBy != c.RequestID {
			return nil, nil
		}
		return []Event{AccountDeleted{AccountID: id, Reason: "rollback", Timestamp: now}}, nil
	}

	if !s.Created {
		return nil, AccountNotFound(id)
	}
	if s.Deleted {
		return nil, errutil.Gone(fmt.Sprintf("account %s was deleted", id), ErrAccountDeleted)
	}

	switch c := cmd.(type) {
	case UpdateAccount:
		next := AccountUpdated{AccountID: id, FirstName: s.FirstName, LastName: s.LastName, Email: s.Email, Timestamp: now}
		if c.FirstName != "" {
			next.FirstName = c.FirstName
		}
		if c.LastName != "" {
			next.LastName = c.LastName
		}
		if c.Email != "" {
			next.Email = NormalizeEmail(c.Email)
		}
		if next.FirstName == s.FirstName && next.LastName == s.LastName && next.Email == s.Email {
			return nil, nil
		}
		return []Event{next}, nil

	case DeleteAccount:
		return []Event{AccountDeleted{AccountID: id, Reason: "deleted", Timestamp: now}}, nil

	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unsupported account command %T", cmd), nil)
	}
}
