package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type cacheURLsPayload struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,apppath"`
}

type queueRecordPayload struct {
	Kind string `json:"kind" validate:"required,oneof=activities social-posts"`
	ID   string `json:"id" validate:"omitempty,max=128"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(cacheURLsPayload{URLs: []string{"/x", "/api/challenges?page=2"}}))
	require.NoError(t, ValidateStruct(queueRecordPayload{Kind: "activities"}))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(queueRecordPayload{Kind: "reactions"})
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 1)
	require.Equal(t, "kind", vErrs[0].Field)
	require.Equal(t, "oneof", vErrs[0].Tag)
	require.Contains(t, vErrs.Error(), "kind failed on oneof=activities social-posts")
}

func TestAppPathRule(t *testing.T) {
	err := ValidateStruct(cacheURLsPayload{URLs: []string{"/ok", "https://evil.example/x", "//cdn.example/y"}})
	require.Error(t, err)

	vErrs := err.(ValidationErrors)
	require.Len(t, vErrs, 2)
	for _, v := range vErrs {
		require.Equal(t, "apppath", v.Tag)
	}
}

func TestIsAppPath(t *testing.T) {
	require.True(t, IsAppPath("/"))
	require.True(t, IsAppPath("/?section=challenges"))
	require.False(t, IsAppPath(""))
	require.False(t, IsAppPath("relative/path"))
	require.False(t, IsAppPath("http://example.com/"))
}

func TestRegisterValidation(t *testing.T) {
	require.NoError(t, RegisterValidation("greentrace", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "greentrace"
	}))

	type custom struct {
		Value string `validate:"greentrace"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "greentrace"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))
}
