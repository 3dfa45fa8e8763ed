package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type repositoryPayload struct {
	Name  string `json:"repository_name" validate:"required"`
	Email string `json:"admin_email" validate:"required,email"`
	TTL   int    `json:"ttl" validate:"gte=1"`
}

type nestedPayload struct {
	OAI struct {
		Path string `mapstructure:"path" validate:"required,startswith=/"`
	} `mapstructure:"oai"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := repositoryPayload{
		Name:  "Library",
		Email: "admin@example.org",
		TTL:   60,
	}
	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(repositoryPayload{Email: "invalid"})
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 3)

	fields := make([]string, 0, len(vErrs))
	for _, v := range vErrs {
		fields = append(fields, v.Field)
	}
	require.Contains(t, fields, "admin_email")
	require.Contains(t, fields, "repository_name")
}

func TestValidateStructUsesMapstructurePath(t *testing.T) {
	var payload nestedPayload
	payload.OAI.Path = "oai"

	err := ValidateStruct(payload)
	require.Error(t, err)

	vErrs := err.(ValidationErrors)
	require.Len(t, vErrs, 1)
	require.Equal(t, "oai.path", vErrs[0].Field)
	require.Equal(t, "startswith", vErrs[0].Tag)
	require.Contains(t, vErrs.Error(), "oai.path failed on startswith=/")
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("oai_prefix", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "oai_dc"
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"oai_prefix"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "oai_dc"}))
	require.Error(t, ValidateStruct(custom{Value: "mods"}))
}
