package tool

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// SearchLogsArgs are the arguments of searchLogs.
type SearchLogsArgs struct {
	RequestID      string `mapstructure:"requestId" json:"requestId,omitempty"`
	UserID         string `mapstructure:"userId" json:"userId,omitempty"`
	BatchID        string `mapstructure:"batchId" json:"batchId,omitempty"`
	SourceID       string `mapstructure:"sourceId" json:"sourceId,omitempty"`
	Service        string `mapstructure:"service" json:"service,omitempty"`
	Level          string `mapstructure:"level" json:"level,omitempty" validate:"omitempty,oneof=ERROR WARN INFO DEBUG"`
	Keyword        string `mapstructure:"keyword" json:"keyword,omitempty"`
	TimeRangeStart string `mapstructure:"timeRangeStart" json:"timeRangeStart,omitempty"`
	TimeRangeEnd   string `mapstructure:"timeRangeEnd" json:"timeRangeEnd,omitempty"`
	Recursive      bool   `mapstructure:"recursive" json:"recursive,omitempty"`
}

func (a *SearchLogsArgs) normalize() {
	a.Level = strings.ToUpper(strings.TrimSpace(a.Level))
}

// CheckChangesArgs are the arguments of checkRecentChanges.
type CheckChangesArgs struct {
	TimeRangeStart string `mapstructure:"timeRangeStart" json:"timeRangeStart,omitempty"`
	TimeRangeEnd   string `mapstructure:"timeRangeEnd" json:"timeRangeEnd,omitempty"`
	Keyword        string `mapstructure:"keyword" json:"keyword,omitempty"`
	ChangeType     string `mapstructure:"changeType" json:"changeType,omitempty"`
}

// CreateTicketArgs are the arguments of createTicket.
type CreateTicketArgs struct {
	Title            string   `mapstructure:"title" json:"title" validate:"required"`
	Description      string   `mapstructure:"description" json:"description" validate:"required"`
	Severity         string   `mapstructure:"severity" json:"severity" validate:"required,oneof=low medium high critical"`
	AffectedServices []string `mapstructure:"affectedServices" json:"affectedServices" validate:"required,dive,required"`
	Suggestions      []string `mapstructure:"suggestions" json:"suggestions,omitempty"`
}

func (a *CreateTicketArgs) normalize() {
	a.Severity = strings.ToLower(strings.TrimSpace(a.Severity))
}

// AlertTeamArgs are the arguments of alertTeam.
type AlertTeamArgs struct {
	Severity         string   `mapstructure:"severity" json:"severity" validate:"required,oneof=low medium high critical"`
	AffectedServices []string `mapstructure:"affectedServices" json:"affectedServices" validate:"required,dive,required"`
	IssueSummary     string   `mapstructure:"issueSummary" json:"issueSummary" validate:"required"`
}

func (a *AlertTeamArgs) normalize() {
	a.Severity = strings.ToLower(strings.TrimSpace(a.Severity))
}

type normalizer interface {
	normalize()
}

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func argValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// decodeArgs decodes raw into a fresh A and validates it. Keys match field
// names regardless of case or underscores, so both "batchId" and "batch_id"
// are accepted. Scalars are weakly typed ("true" decodes into a bool).
func decodeArgs[A any](tool Kind, raw map[string]any) (A, error) {
	var args A
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return nameKey(mapKey) == nameKey(fieldName)
		},
	})
	if err != nil {
		return args, fmt.Errorf("%s: decoder: %w", tool, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := dec.Decode(raw); err != nil {
		return args, &ValidationError{Tool: tool.String(), Problems: []string{err.Error()}}
	}

	if n, ok := any(&args).(normalizer); ok {
		n.normalize()
	}

	if err := argValidator().Struct(&args); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return args, &ValidationError{Tool: tool.String(), Problems: []string{err.Error()}}
		}
		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
		return args, &ValidationError{Tool: tool.String(), Problems: problems}
	}
	return args, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
