package service

import (
	"strings"
	"time"

	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
)

// SchoolCalendar maps calendar dates onto the six-day instructional week.
type SchoolCalendar struct {
	loc *time.Location
}

// NewSchoolCalendar builds a calendar for the named IANA timezone, falling
// back to UTC when it cannot be loaded.
func NewSchoolCalendar(timezone string) *SchoolCalendar {
	loc, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	return &SchoolCalendar{loc: loc}
}

// Today returns the current school-local date.
func (c *SchoolCalendar) Today() time.Time {
	return models.DateOnly(time.Now().In(c.location()))
}

// ParseDate parses a YYYY-MM-DD date.
func (c *SchoolCalendar) ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be formatted as YYYY-MM-DD")
	}
	return d, nil
}

// DateOrToday parses raw, defaulting to today when it is empty.
func (c *SchoolCalendar) DateOrToday(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return c.Today(), nil
	}
	return c.ParseDate(raw)
}

// Weekday returns the timetable weekday for date: 1 for Monday through 6 for
// Saturday, and 0 for Sunday, which has no lessons.
func (c *SchoolCalendar) Weekday(date time.Time) int {
	wd := int(date.Weekday())
	if wd == int(time.Sunday) {
		return 0
	}
	return wd
}

func (c *SchoolCalendar) location() *time.Location {
	if c == nil || c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func validatePeriod(period int) error {
	if !models.ValidPeriod(period) {
		return appErrors.Clone(appErrors.ErrValidation, "period must be between 1 and 8")
	}
	return nil
}
