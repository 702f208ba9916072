package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"sheratan/internal/domain"
)

// Explain turns an operation error into a one-line likely cause for display.
func Explain(err error) string {
	if err == nil {
		return ""
	}
	var step *domain.StepError
	if errors.As(err, &step) {
		return fmt.Sprintf("%s stopped at %s: %s", step.Op, step.Step, Explain(step.Err))
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		port := "unknown"
		if u, perr := url.Parse(ue.BaseURL); perr == nil {
			port = u.Port()
			if port == "" && u.Scheme == "https" {
				port = "443"
			} else if port == "" {
				port = "80"
			}
		}
		return fmt.Sprintf("%s backend not reachable on expected port (%s) at %s", ue.Backend, port, ue.BaseURL)
	}
	var ae *APIError
	if errors.As(err, &ae) {
		msg := ae.Detail
		if msg == "" {
			msg = http.StatusText(ae.StatusCode)
		}
		switch {
		case ae.StatusCode == http.StatusNotFound:
			return "not found on backend: " + msg
		case ae.StatusCode >= 500:
			return fmt.Sprintf("backend error (status %d): %s", ae.StatusCode, msg)
		default:
			return fmt.Sprintf("request rejected (status %d): %s", ae.StatusCode, msg)
		}
	}
	var me *domain.MalformedError
	if errors.As(err, &me) {
		return "backend returned malformed data: " + me.Error()
	}
	return err.Error()
}
