package audit

import (
	"reflect"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeDecision       EventType = "authz_decision"
	EventTypeSystemStartup  EventType = "system_startup"
	EventTypeSystemShutdown EventType = "system_shutdown"
)

// Decision represents the recorded outcome of a check
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	// DecisionError is a check that failed closed on bad policy data or hydration
	DecisionError Decision = "error"
)

// Event represents a generic audit event
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// DecisionEvent records one authorization decision
type DecisionEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  EventType `json:"event_type"`
	EventID    string    `json:"event_id"`
	RequestID  string    `json:"request_id,omitempty"`
	DecisionID string    `json:"decision_id,omitempty"`

	UserID     string                 `json:"user_id"`
	RoleIDs    []int64                `json:"role_ids,omitempty"`
	SuperAdmin bool                   `json:"super_admin,omitempty"`
	Permission string                 `json:"permission"`
	Resource   map[string]interface{} `json:"resource,omitempty"`

	// Check is the position within a batch, or -1 for a single check
	Check    int      `json:"check"`
	Decision Decision `json:"decision"`
	Error    string   `json:"error,omitempty"`

	DurationUs int64 `json:"duration_us"`
}

// snapshot returns a copy of the event that shares no maps or slices with
// the caller, so it can outlive the LogDecision call
func (e *DecisionEvent) snapshot() *DecisionEvent {
	c := *e
	if e.RoleIDs != nil {
		c.RoleIDs = append([]int64(nil), e.RoleIDs...)
	}
	if e.Resource != nil {
		c.Resource = deepCopy(reflect.ValueOf(e.Resource)).Interface().(map[string]interface{})
	}
	return &c
}

// deepCopy copies nested maps and slices. Other values are shared.
func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopy(v.Elem()))
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	}
	return v
}
