package controllers

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
)

const (
	MaxPageSize  = 100
	DefaultLimit = 10
	dateLayout   = "2006-01-02"
)

var (
	deliveryTimeRE = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)
	mealIDRE       = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators installs the custom binding tags on gin's validator and
// makes error paths use JSON field names. Safe to call more than once.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("gin validator is not go-playground/validator")
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		for tag, fn := range map[string]validator.Func{
			"deliverytime": func(fl validator.FieldLevel) bool {
				return deliveryTimeRE.MatchString(fl.Field().String())
			},
			"mealid": func(fl validator.FieldLevel) bool {
				return mealIDRE.MatchString(fl.Field().String())
			},
			"isodate": func(fl validator.FieldLevel) bool {
				_, err := parseDeliveryDate(fl.Field().String())
				return err == nil
			},
		} {
			if err := v.RegisterValidation(tag, fn); err != nil {
				registerErr = fmt.Errorf("register %s validator: %w", tag, err)
				return
			}
		}
	})
	return registerErr
}

// parseDeliveryDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDeliveryDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// bindingError turns a gin binding failure into a validation error listing
// each offending field.
func bindingError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperrors.Validation("Malformed request body")
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		fields[path] = fieldMessage(fe)
	}
	return apperrors.ValidationFields("Invalid request", fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "deliverytime":
		return "must be in HH:MM format"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	case "mealid":
		return "is not a valid meal ID"
	case "uuid":
		return "must be a UUID"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}

// parsePaginationParams extracts and validates page/limit query params.
func parsePaginationParams(page, limit string) (int, int) {
	pageInt, limitInt := 1, DefaultLimit
	if p, err := strconv.Atoi(page); err == nil && p > 0 {
		pageInt = p
	}
	if l, err := strconv.Atoi(limit); err == nil && l > 0 {
		limitInt = l
		if limitInt > MaxPageSize {
			limitInt = MaxPageSize
		}
	}
	return pageInt, limitInt
}
