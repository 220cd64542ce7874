package azdo

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/opentools-mf/azdo-runner-operator/internal/errs"
)

// classify wraps err with errs.ErrTransient or errs.ErrPermanent based on
// the HTTP status code carried by the Azure DevOps SDK's wrapped
// response error, when one can be recovered. 404 and 409 are treated as
// transient: callers that want "not found means success" check for them
// explicitly before calling classify.
func classify(op string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if statusCode >= 400 && statusCode < 500 && statusCode != http.StatusNotFound && statusCode != http.StatusConflict {
		return fmt.Errorf("azure devops: %s: %w: %w", op, errs.ErrPermanent, err)
	}
	return fmt.Errorf("azure devops: %s: %w: %w", op, errs.ErrTransient, err)
}

func isNotFound(statusCode int) bool {
	return statusCode == http.StatusNotFound
}

// statusCodeOf attempts to recover an HTTP status code from an error
// returned by the Azure DevOps SDK or a raw http.Response, defaulting to
// 0 (unknown, treated as transient) when it can't.
func statusCodeOf(resp *http.Response, err error) int {
	if resp != nil {
		return resp.StatusCode
	}
	var we interface{ StatusCode() int }
	if errors.As(err, &we) {
		return we.StatusCode()
	}
	return 0
}
