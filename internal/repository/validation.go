package repository

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sjperalta/cropcoef-api/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names, the names callers send
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(coefficientsStructLevel, models.Coefficients{})
	return v
}

// coefficientsStructLevel checks that the stage durations add up to the season
func coefficientsStructLevel(sl validator.StructLevel) {
	c := sl.Current().Interface().(models.Coefficients)
	if c.SeasonLength > 0 && c.TotalDuration() != c.SeasonLength {
		sl.ReportError(c.SeasonLength, "season_length", "SeasonLength", "duration_sum", strconv.Itoa(c.TotalDuration()))
	}
}

type proposalFields struct {
	SubjectID    string              `json:"subject_id" validate:"required,max=64"`
	Coefficients models.Coefficients `json:"coefficients"`
	Provenance   models.Provenance   `json:"provenance"`
}

type mutableFields struct {
	Coefficients models.Coefficients `json:"coefficients"`
	Provenance   models.Provenance   `json:"provenance"`
}

func validateCreate(in CreateInput) error {
	return toValidationError(validate.Struct(proposalFields{
		SubjectID:    in.SubjectID,
		Coefficients: in.Coefficients,
		Provenance:   in.Provenance,
	}))
}

func validateMutable(c models.Coefficients, p models.Provenance) error {
	return toValidationError(validate.Struct(mutableFields{Coefficients: c, Provenance: p}))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fieldPath(fe)] = describe(fe)
	}
	return out
}

// fieldPath drops the root struct name: "proposalFields.coefficients.kc_mid" → "coefficients.kc_mid"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "es obligatorio"
	case "gte":
		return "debe ser mayor o igual a " + fe.Param()
	case "gt":
		return "debe ser mayor a " + fe.Param()
	case "lte":
		return "debe ser menor o igual a " + fe.Param()
	case "max":
		return "excede la longitud máxima de " + fe.Param()
	case "duration_sum":
		return "no coincide con la suma de las etapas (" + fe.Param() + ")"
	default:
		return "no es válido (" + fe.Tag() + ")"
	}
}
