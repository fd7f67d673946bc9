package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// NewValidator returns the validator used for request bodies.
func NewValidator() *validatorv10.Validate {
	return validatorv10.New(validatorv10.WithRequiredStructEnabled())
}

// bindAndValidate decodes the JSON body into out and validates it. On failure it
// writes a 400 response and returns the error so the handler can stop.
func bindAndValidate(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request_body",
			"error_description": err.Error(),
		})
		return err
	}
	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": validationErrorsToMap(err),
		})
		return err
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Namespace()] = fe.Tag()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}
