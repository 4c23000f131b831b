package splynx

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString decodes JSON values that arrive as either a string or a number.
// The ticketing API is inconsistent about numeric identifiers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the underlying value.
func (f FlexString) String() string { return string(f) }

// Int64 parses the value as an integer, returning 0 when empty or malformed.
func (f FlexString) Int64() int64 {
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IsTruthy reports whether the value represents an enabled flag ("1",
// "true", "yes").
func (f FlexString) IsTruthy() bool {
	switch string(f) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Ticket is a support ticket as returned by the remote API.
type Ticket struct {
	ID         FlexString `json:"id"`
	CustomerID FlexString `json:"customer_id"`
	AssignTo   FlexString `json:"assign_to"`
	Subject    string     `json:"subject"`
	StatusID   FlexString `json:"status_id"`
	Priority   string     `json:"priority"`
	GroupID    FlexString `json:"group_id"`
	Closed     FlexString `json:"closed"`
	UpdatedAt  string     `json:"updated_at"`
	ClosedAt   string     `json:"closed_at"`
	CreatedAt  string     `json:"created_at"`
}

// UnmarshalJSON accepts the assignee under either field name; some API
// versions send "assign_to", others "assigned_to".
func (t *Ticket) UnmarshalJSON(data []byte) error {
	type alias Ticket
	aux := struct {
		*alias
		AssignedTo FlexString `json:"assigned_to"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if t.AssignTo == "" {
		t.AssignTo = aux.AssignedTo
	}
	return nil
}

// IsClosed reports whether the remote side considers the ticket closed.
func (t Ticket) IsClosed() bool { return t.Closed.IsTruthy() }

// TicketMessage is one message on a ticket's conversation.
type TicketMessage struct {
	ID         FlexString `json:"id"`
	TicketID   FlexString `json:"ticket_id"`
	CustomerID FlexString `json:"customer_id"`
	AdminID    FlexString `json:"admin_id"`
	Message    string     `json:"message"`
	CreatedAt  string     `json:"date"`
}

// Administrator is a Splynx admin account, used to map assignee names.
type Administrator struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

// tokenResponse is the payload of a successful token request.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
}
