package flow

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Registration field names, in collection order.
const (
	FieldName      = "name"
	FieldPhone     = "phone"
	FieldEmail     = "email"
	FieldBirthDate = "birth_date"
	FieldAbout     = "about"
)

const (
	// BirthDateInputLayout is the format users type their birth date in.
	BirthDateInputLayout = "02/01/2006"
	// BirthDateStoredLayout is the format birth dates are collected in.
	BirthDateStoredLayout = "2006-01-02"
	// MinAboutLength is the minimum number of characters for the about step.
	MinAboutLength = 20
)

// StepValidator checks one answer and returns the normalized value to store.
// Rejections wrap models.ErrInvalidStepInput.
type StepValidator func(input string, now time.Time) (string, error)

// Step is one row of the registration table.
type Step struct {
	Field    string        // key under which the value is collected
	Label    string        // human label used in the completion summary
	Prompt   string        // question sent when the step becomes active
	Retry    string        // error prompt sent when validation fails
	Validate StepValidator // answer check
}

var (
	phoneRegex      = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)
	phoneStripRegex = regexp.MustCompile(`[\s\-().]`)
	fieldValidator  = validator.New()
)

// DefaultSteps returns the registration table. The returned slice is a fresh copy.
func DefaultSteps() []Step {
	return []Step{
		{
			Field:    FieldName,
			Label:    "Name",
			Prompt:   "What is your full name?",
			Retry:    "Please enter your full name (first and last name, letters only).",
			Validate: ValidateName,
		},
		{
			Field:    FieldPhone,
			Label:    "Phone",
			Prompt:   "What is your phone number? Please include the country code, e.g. +57 300 123 4567.",
			Retry:    "That doesn't look like a valid phone number. Please include the country code, e.g. +57 300 123 4567.",
			Validate: ValidatePhone,
		},
		{
			Field:    FieldEmail,
			Label:    "Email",
			Prompt:   "What is your email address?",
			Retry:    "Please enter a valid email address, e.g. jane@example.com.",
			Validate: ValidateEmail,
		},
		{
			Field:    FieldBirthDate,
			Label:    "Birth date",
			Prompt:   "What is your date of birth? (DD/MM/YYYY)",
			Retry:    "Invalid date. Use DD/MM/YYYY, for example 25/12/1990. Future dates are not accepted.",
			Validate: ValidateBirthDate,
		},
		{
			Field:    FieldAbout,
			Label:    "About you",
			Prompt:   "We'd love to know you better! Tell us what music and artists you like and what experiences you'd enjoy at our sessions.",
			Retry:    fmt.Sprintf("Please tell us a little more about yourself (at least %d characters).", MinAboutLength),
			Validate: ValidateAbout,
		},
	}
}

// ValidateSteps checks that a registration table is usable by the engine.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("registration needs at least one step")
	}
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Field == "" || s.Prompt == "" || s.Validate == nil {
			return fmt.Errorf("registration step %d is incomplete", i)
		}
		if seen[s.Field] {
			return fmt.Errorf("registration step %d reuses field %q", i, s.Field)
		}
		seen[s.Field] = true
	}
	return nil
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidStepInput, fmt.Sprintf(format, args...))
}

// ValidateName accepts two or more words made of letters and returns them title-cased.
func ValidateName(input string, _ time.Time) (string, error) {
	words := strings.Fields(input)
	if len(words) < 2 {
		return "", reject("name needs first and last name")
	}
	for _, w := range words {
		for _, r := range w {
			if !unicode.IsLetter(r) && r != '\'' && r != '-' {
				return "", reject("name contains %q", r)
			}
		}
	}
	// Casers are stateful, so each call gets its own.
	return cases.Title(language.Und).String(strings.Join(words, " ")), nil
}

// ValidatePhone accepts an international number and returns it without separators.
func ValidatePhone(input string, _ time.Time) (string, error) {
	canonical := phoneStripRegex.ReplaceAllString(strings.TrimSpace(input), "")
	if !phoneRegex.MatchString(canonical) {
		return "", reject("phone %q does not match the expected pattern", input)
	}
	if !strings.HasPrefix(canonical, "+") {
		canonical = "+" + canonical
	}
	return canonical, nil
}

// ValidateEmail accepts an address per RFC 5322 and returns it lower-cased.
func ValidateEmail(input string, _ time.Time) (string, error) {
	email := strings.ToLower(strings.TrimSpace(input))
	if err := fieldValidator.Var(email, "required,email"); err != nil {
		return "", reject("email %q is invalid", input)
	}
	return email, nil
}

// ValidateBirthDate accepts DD/MM/YYYY dates that are not in the future.
func ValidateBirthDate(input string, now time.Time) (string, error) {
	d, err := time.Parse(BirthDateInputLayout, strings.TrimSpace(input))
	if err != nil {
		return "", reject("birth date %q is not DD/MM/YYYY", input)
	}
	if d.After(now) {
		return "", reject("birth date %q is in the future", input)
	}
	if d.Year() < 1900 {
		return "", reject("birth date %q is too far in the past", input)
	}
	return d.Format(BirthDateStoredLayout), nil
}

// ValidateAbout accepts free text of at least MinAboutLength characters.
func ValidateAbout(input string, _ time.Time) (string, error) {
	text := strings.TrimSpace(input)
	if utf8.RuneCountInString(text) < MinAboutLength {
		return "", reject("about text is shorter than %d characters", MinAboutLength)
	}
	return text, nil
}
