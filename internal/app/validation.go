package app

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type CreateBoardInput struct {
	Name        string  `json:"name" validate:"required,max=140"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

type UpdateBoardInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=140"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

type CreateColumnInput struct {
	Name           string `json:"name" validate:"required,max=80"`
	BeforeColumnID string `json:"beforeColumnId"`
	AfterColumnID  string `json:"afterColumnId"`
}

type MoveColumnInput struct {
	BeforeColumnID  string `json:"beforeColumnId"`
	AfterColumnID   string `json:"afterColumnId"`
	ExpectedVersion *int64 `json:"expectedVersion" validate:"omitempty,min=0"`
}

type RenameColumnInput struct {
	Name            string `json:"name" validate:"required,max=80"`
	ExpectedVersion *int64 `json:"expectedVersion" validate:"omitempty,min=0"`
}

type CreateCardInput struct {
	Title        string  `json:"title" validate:"required,max=200"`
	Description  *string `json:"description" validate:"omitempty,max=2000"`
	BeforeCardID string  `json:"beforeCardId"`
	AfterCardID  string  `json:"afterCardId"`
}

type MoveCardInput struct {
	ToColumnID      string `json:"toColumnId"`
	BeforeCardID    string `json:"beforeCardId"`
	AfterCardID     string `json:"afterCardId"`
	ExpectedVersion *int64 `json:"expectedVersion" validate:"omitempty,min=0"`
}

type UpdateCardInput struct {
	Title           *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description     *string `json:"description" validate:"omitempty,max=2000"`
	ExpectedVersion *int64  `json:"expectedVersion" validate:"omitempty,min=0"`
}

// InviteMemberInput adds a member directly by user id, or invites an email
// address that becomes a pending membership.
type InviteMemberInput struct {
	Role   string `json:"role" validate:"required,oneof=admin writer reader"`
	UserID string `json:"userId" validate:"max=200"`
	Email  string `json:"email" validate:"omitempty,email,max=320"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	details := make(map[string]string, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		details[field] = fe.Tag()
		messages = append(messages, field+" failed "+fe.Tag())
	}
	return validationError(strings.Join(messages, "; "), details)
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}
