package projects

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"

	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
)

// EditableFields is the allow-list of fields a submitter may change. Status,
// review and ledger fields are deliberately absent.
var EditableFields = []string{
	"projectName",
	"organizationName",
	"projectType",
	"proposedCredit",
	"description",
	"location",
	"methodology",
	"details",
}

// SubmissionUpdate carries a partial edit. Nil fields are left untouched.
type SubmissionUpdate struct {
	ProjectName      *string         `json:"projectName" validate:"omitempty,min=1,max=200"`
	OrganizationName *string         `json:"organizationName" validate:"omitempty,min=1,max=200"`
	ProjectType      *ProjectType    `json:"projectType" validate:"omitempty,project_type"`
	ProposedCredit   *float64        `json:"proposedCredit" validate:"omitempty,credit"`
	Description      *string         `json:"description" validate:"omitempty,max=4000"`
	Location         *string         `json:"location" validate:"omitempty,max=500"`
	Methodology      *string         `json:"methodology" validate:"omitempty,max=200"`
	Details          *datatypes.JSON `json:"details"`
}

// IsEmpty reports whether the update changes nothing.
func (u SubmissionUpdate) IsEmpty() bool {
	return u.ProjectName == nil && u.OrganizationName == nil && u.ProjectType == nil &&
		u.ProposedCredit == nil && u.Description == nil && u.Location == nil &&
		u.Methodology == nil && u.Details == nil
}

// TrimNames strips surrounding whitespace from the name fields, so a blank
// name fails validation instead of being stored empty.
func (u *SubmissionUpdate) TrimNames() {
	for _, f := range []*string{u.ProjectName, u.OrganizationName} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

// Apply merges the update into s.
func (u SubmissionUpdate) Apply(s *Submission) {
	if u.ProjectName != nil {
		s.ProjectName = strings.TrimSpace(*u.ProjectName)
	}
	if u.OrganizationName != nil {
		s.OrganizationName = strings.TrimSpace(*u.OrganizationName)
	}
	if u.ProjectType != nil {
		s.ProjectType = *u.ProjectType
	}
	if u.ProposedCredit != nil {
		s.ProposedCredit = *u.ProposedCredit
	}
	if u.Description != nil {
		s.Description = *u.Description
	}
	if u.Location != nil {
		s.Location = *u.Location
	}
	if u.Methodology != nil {
		s.Methodology = *u.Methodology
	}
	if u.Details != nil {
		s.Details = NormalizeDetails(*u.Details)
	}
}

// DecodeUpdate strictly decodes an updates object, rejecting any field outside
// the allow-list, and validates the values.
func DecodeUpdate(raw json.RawMessage) (SubmissionUpdate, error) {
	var u SubmissionUpdate
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return u, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			field = strings.Trim(field, `"`)
			return u, appErrors.Clonef(appErrors.ErrValidation, "field %q is not editable", field).
				WithDetails(map[string]any{"field": field, "editable": EditableFields})
		}
		return u, appErrors.Clone(appErrors.ErrValidation, "malformed updates object").WithCause(err)
	}

	u.TrimNames()
	if err := Validate(u); err != nil {
		return u, err
	}
	return u, nil
}

// NormalizeDetails maps an absent details document to an empty object.
func NormalizeDetails(d datatypes.JSON) datatypes.JSON {
	if len(bytes.TrimSpace(d)) == 0 || bytes.Equal(bytes.TrimSpace(d), []byte("null")) {
		return datatypes.JSON("{}")
	}
	return d
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("project_type", func(fl validator.FieldLevel) bool {
		return ProjectType(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("credit", func(fl validator.FieldLevel) bool {
		return ValidCredit(fl.Field().Float())
	})
	return v
}

// Validate checks struct tags and converts failures into a ValidationError
// naming each offending field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	details := make(map[string]any, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
		names = append(names, fe.Field())
	}
	return appErrors.Clonef(appErrors.ErrValidation, "invalid fields: %s", strings.Join(names, ", ")).
		WithDetails(details)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "credit":
		return fmt.Sprintf("must be greater than 0 and below %g with at most %d decimal places", float64(MaxCredit), CreditScale)
	case "project_type":
		return fmt.Sprintf("must be one of %v", ProjectTypes)
	default:
		return "failed " + fe.Tag()
	}
}
