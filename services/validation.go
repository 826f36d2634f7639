package services

import (
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/CrowderSoup/taskpro/database"
)

var (
	themes = []string{"light", "dark", "violet"}

	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
	passwordSpecial = regexp.MustCompile(`[!@#$%^&*]`)
)

// RegisterInput is the body of a registration request
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in RegisterInput) Validate() error {
	v := &ValidationError{}
	checkLength(v, "name", in.Name, 3, 20, true)
	checkEmail(v, "email", in.Email, true)
	checkPassword(v, "password", in.Password, true)
	return v.orNil()
}

// LoginInput is the body of a login request
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	v := &ValidationError{}
	checkEmail(v, "email", in.Email, true)
	checkLength(v, "password", in.Password, 6, 60, true)
	return v.orNil()
}

// ProfileInput changes the caller's own account. Nil fields stay as they are.
type ProfileInput struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

func (in ProfileInput) Validate() error {
	v := &ValidationError{}
	if in.Name != nil {
		checkLength(v, "name", *in.Name, 3, 20, true)
	}
	if in.Email != nil {
		checkEmail(v, "email", *in.Email, true)
	}
	if in.Password != nil {
		checkPassword(v, "password", *in.Password, true)
	}
	return v.orNil()
}

type ThemeInput struct {
	Theme string `json:"theme"`
}

func (in ThemeInput) Validate() error {
	v := &ValidationError{}
	if !slices.Contains(themes, in.Theme) {
		v.add("theme", "must be one of the following: 'light', 'dark', 'violet'")
	}
	return v.orNil()
}

type BackgroundInput struct {
	BackgroundImage *string `json:"backgroundImage"`
}

func (in BackgroundInput) Validate() error {
	v := &ValidationError{}
	if in.BackgroundImage != nil && strings.ContainsAny(*in.BackgroundImage, `/\`) {
		v.add("backgroundImage", "must be a file name")
	}
	return v.orNil()
}

type HelpInput struct {
	Comment string `json:"comment"`
}

func (in HelpInput) Validate() error {
	v := &ValidationError{}
	checkLength(v, "comment", in.Comment, 8, 800, true)
	return v.orNil()
}

// DashboardInput creates or patches a dashboard
type DashboardInput struct {
	Name            *string `json:"name"`
	Icon            *string `json:"icon"`
	BackgroundImage *string `json:"backgroundImage"`
}

// Validate checks the input; the name is only required on creation
func (in DashboardInput) Validate(create bool) error {
	v := &ValidationError{}
	checkOptionalText(v, "name", in.Name, create)
	checkOptionalText(v, "icon", in.Icon, false)
	checkOptionalText(v, "backgroundImage", in.BackgroundImage, false)
	return v.orNil()
}

// ColumnInput creates a column, or renames and/or moves one
type ColumnInput struct {
	Name     *string `json:"name"`
	Position *int    `json:"position"`
}

func (in ColumnInput) Validate(create bool) error {
	v := &ValidationError{}
	checkOptionalText(v, "name", in.Name, create)
	if create && in.Position != nil {
		v.add("position", "is not allowed")
	}
	if in.Position != nil && *in.Position < 0 {
		v.add("position", "must be greater than or equal to 0")
	}
	if !create && in.Name == nil && in.Position == nil {
		v.add("value", "must contain at least one of [name, position]")
	}
	return v.orNil()
}

// CardInput creates or patches a card. ColumnID is only accepted on update,
// where it re-parents the card.
type CardInput struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Priority    *database.Priority `json:"priority"`
	Deadline    *string            `json:"deadline"`
	ColumnID    *string            `json:"columnId"`
}

func (in CardInput) Validate(create bool) error {
	v := &ValidationError{}
	checkOptionalText(v, "title", in.Title, create)
	checkOptionalText(v, "description", in.Description, false)
	if in.Priority != nil && !in.Priority.Valid() {
		v.add("priority", "must be one of the following: 'without', 'low', 'medium', 'high'")
	}
	if in.Deadline != nil {
		if _, err := ParseDate(*in.Deadline); err != nil {
			v.add("deadline", "must be a valid date")
		}
	}
	if in.ColumnID != nil {
		if create {
			v.add("columnId", "is not allowed")
		} else if _, err := uuid.Parse(*in.ColumnID); err != nil {
			v.add("columnId", "should be a valid id")
		}
	}
	return v.orNil()
}

// ParseDate accepts an RFC 3339 timestamp or a plain YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func checkOptionalText(v *ValidationError, field string, value *string, required bool) {
	if value == nil {
		if required {
			v.add(field, "is required")
		}
		return
	}
	if strings.TrimSpace(*value) == "" {
		v.add(field, "is not allowed to be empty")
	}
}

func checkLength(v *ValidationError, field, value string, min, max int, required bool) {
	if value == "" {
		if required {
			v.add(field, "is required")
		}
		return
	}
	n := utf8.RuneCountInString(value)
	if n < min {
		v.add(field, "should have a minimum length of %d", min)
	}
	if n > max {
		v.add(field, "should have a maximum length of %d", max)
	}
}

func checkEmail(v *ValidationError, field, value string, required bool) {
	if value == "" {
		if required {
			v.add(field, "is required")
		}
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.add(field, "must be a valid email")
		return
	}
	domain := value[strings.LastIndex(value, "@")+1:]
	if !strings.Contains(domain, ".") {
		v.add(field, "must be followed by a '.' domain suffix. For example, adrian@gmail.com")
	}
}

func checkPassword(v *ValidationError, field, value string, required bool) {
	checkLength(v, field, value, 6, 60, required)
	if value == "" {
		return
	}
	if !passwordLower.MatchString(value) || !passwordUpper.MatchString(value) ||
		!passwordDigit.MatchString(value) || !passwordSpecial.MatchString(value) {
		v.add(field, "must contain a lower-case letter, an upper-case letter, a digit and one of !@#$%%^&*")
	}
}
