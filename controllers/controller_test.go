package controllers

import (
	"net/http"
	"testing"

	"visa-letter-api/services"

	"github.com/stretchr/testify/assert"
)

func TestStatusForResultKinds(t *testing.T) {
	tests := []struct {
		kind   services.ErrorKind
		status int
	}{
		{services.KindNotFound, http.StatusNotFound},
		{services.KindInvalidTransition, http.StatusConflict},
		{services.KindAlreadyClaimed, http.StatusConflict},
		{services.KindValidation, http.StatusUnprocessableEntity},
		{services.KindForbidden, http.StatusForbidden},
		{services.KindInternal, http.StatusInternalServerError},
		{services.ErrorKind("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(services.Result{Kind: tt.kind}))
		})
	}
}

func TestCreateEventRequestInput(t *testing.T) {
	off := false
	req := createEventRequest{
		Name:                "Scrapyard",
		StartDate:           "2027-03-01",
		EndDate:             "2027-03-02",
		ApplicationDeadline: "2027-02-01",
		ApplicationsOpen:    &off,
	}
	in, problem := req.input()
	assert.Empty(t, problem)
	assert.True(t, in.Active)
	assert.False(t, in.ApplicationsOpen)
	if assert.NotNil(t, in.ApplicationDeadline) {
		assert.Equal(t, "2027-02-01", in.ApplicationDeadline.Format(dateLayout))
	}

	req.EndDate = "March 2nd"
	_, problem = req.input()
	assert.Contains(t, problem, "end_date")
}
