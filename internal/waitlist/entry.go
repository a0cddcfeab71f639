package waitlist

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	DateLayout     = "2006-01-02"
	TimeSlotLayout = "15:04"
	DefaultSection = "main"

	keySeparator = "|"
	maxSection   = 64
)

// SlotKey identifies one bookable capacity bucket.
type SlotKey struct {
	Date     string `json:"date" bson:"date"`
	TimeSlot string `json:"timeSlot" bson:"timeSlot"`
	Section  string `json:"section" bson:"section"`
}

func NewSlotKey(date, timeSlot, section string) SlotKey {
	section = strings.TrimSpace(section)
	if section == "" {
		section = DefaultSection
	}
	return SlotKey{Date: strings.TrimSpace(date), TimeSlot: strings.TrimSpace(timeSlot), Section: section}
}

func (k SlotKey) String() string {
	return k.Date + keySeparator + k.TimeSlot + keySeparator + k.Section
}

func (k SlotKey) Validate() error {
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if k.TimeSlot == "" {
		return fmt.Errorf("%w: timeSlot required", ErrValidation)
	}
	if _, err := time.Parse(TimeSlotLayout, k.TimeSlot); err != nil {
		return fmt.Errorf("%w: timeSlot must be HH:MM", ErrValidation)
	}
	if k.Section == "" {
		return fmt.Errorf("%w: section required", ErrValidation)
	}
	if utf8.RuneCountInString(k.Section) > maxSection {
		return fmt.Errorf("%w: section longer than %d characters", ErrValidation, maxSection)
	}
	if strings.Contains(k.Section, keySeparator) {
		return fmt.Errorf("%w: section must not contain %q", ErrValidation, keySeparator)
	}
	return nil
}

func ParseSlotKey(s string) (SlotKey, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 3 {
		return SlotKey{}, fmt.Errorf("%w: malformed slot key %q", ErrValidation, s)
	}
	k := NewSlotKey(parts[0], parts[1], parts[2])
	return k, k.Validate()
}

// Entry is one party on the waitlist.
type Entry struct {
	ID            string     `json:"id" bson:"_id"`
	PartyName     string     `json:"partyName" bson:"partyName"`
	Contact       string     `json:"contact" bson:"contact"`
	RequestedDate string     `json:"requestedDate" bson:"date"`
	TimeSlot      string     `json:"timeSlot" bson:"timeSlot"`
	Section       string     `json:"section" bson:"section"`
	Guests        int        `json:"guests" bson:"guests"`
	Status        Status     `json:"status" bson:"status"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
	NotifiedAt    *time.Time `json:"notifiedAt,omitempty" bson:"notifiedAt,omitempty"`
	DepartedAt    *time.Time `json:"departedAt,omitempty" bson:"departedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt"`
}

func (e Entry) Slot() SlotKey {
	return SlotKey{Date: e.RequestedDate, TimeSlot: e.TimeSlot, Section: e.Section}
}

// ExpiresAt is the deadline for a notified party to be seated.
func (e Entry) ExpiresAt(after time.Duration) (time.Time, bool) {
	if e.Status != StatusNotified || e.NotifiedAt == nil {
		return time.Time{}, false
	}
	return e.NotifiedAt.Add(after), true
}

// Less orders entries FIFO: creation time first, id on ties.
func (e Entry) Less(o Entry) bool {
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.ID < o.ID
}

// CapacitySlot is the seat ledger of one slot key.
type CapacitySlot struct {
	Key           SlotKey   `json:"key"`
	TotalSeats    int       `json:"totalSeats"`
	ReservedSeats int       `json:"reservedSeats"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (c CapacitySlot) FreeSeats() int {
	if free := c.TotalSeats - c.ReservedSeats; free > 0 {
		return free
	}
	return 0
}

// JoinRequest is what a party submits to get on the list.
type JoinRequest struct {
	PartyName string `json:"partyName" validate:"required,max=120"`
	Contact   string `json:"contact" validate:"required,max=200"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot  string `json:"timeSlot" validate:"required,datetime=15:04"`
	Section   string `json:"section" validate:"omitempty,max=64,excludesall=0x7C"`
	Guests    int    `json:"guests" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r JoinRequest) Slot() SlotKey {
	return NewSlotKey(r.Date, r.TimeSlot, r.Section)
}

// Normalize trims the free-text fields and applies the default section.
func (r JoinRequest) Normalize() JoinRequest {
	k := r.Slot()
	r.PartyName = strings.TrimSpace(r.PartyName)
	r.Contact = strings.TrimSpace(r.Contact)
	r.Date, r.TimeSlot, r.Section = k.Date, k.TimeSlot, k.Section
	return r
}

func (r JoinRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", lowerFirst(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid %s", ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return r.Slot().Validate()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
