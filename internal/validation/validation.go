// Package validation checks request input for the control API.
package validation

import (
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize caps JSON request bodies. Audio never travels in a request
// body on this API.
const MaxRequestSize = 64 << 10

var idPattern = regexp.MustCompile(`^[a-z]{3,4}_[a-f0-9]{24}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID reports whether s looks like a generated identifier
// (prefix_ + 24 hex chars), optionally requiring a prefix.
func IsValidID(s, prefix string) bool {
	return idPattern.MatchString(s) && strings.HasPrefix(s, prefix)
}

// FieldError is one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects field errors.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Rule checks one field.
type Rule func() *FieldError

// Validate runs every rule and returns the failures, or nil.
func Validate(rules ...Rule) Errors {
	var errs Errors
	for _, r := range rules {
		if fe := r(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func Required(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// OneOf accepts an empty value or one of allowed.
func OneOf(field, value string, allowed []string) Rule {
	return func() *FieldError {
		if value == "" || slices.Contains(allowed, value) {
			return nil
		}
		return &FieldError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// IntRange accepts an empty value or an integer in [lo, hi].
func IntRange(field, value string, lo, hi int) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < lo || n > hi {
			return &FieldError{Field: field, Message: "must be an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi)}
		}
		return nil
	}
}

// Bool accepts an empty value or a strconv.ParseBool spelling.
func Bool(field, value string) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		if _, err := strconv.ParseBool(value); err != nil {
			return &FieldError{Field: field, Message: "must be true or false"}
		}
		return nil
	}
}

// IDParamMiddleware rejects a malformed :id path parameter before it reaches
// storage.
func IDParamMiddleware(prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); !IsValidID(id, prefix) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must look like " + prefix + "<24 hex chars>",
			})
			return
		}
		c.Next()
	}
}
