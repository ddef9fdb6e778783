package main

import (
	"errors"
	"net/http"
	"testing"
)

func TestIsServerClosedDetectsErrServerClosed(t *testing.T) {
	if !isServerClosed(http.ErrServerClosed) {
		t.Fatal("expected http.ErrServerClosed to be recognized")
	}
	if isServerClosed(errors.New("boom")) {
		t.Fatal("unexpected match for unrelated error")
	}
}

func TestItoaFormatsPort(t *testing.T) {
	if got := itoa(8090); got != "8090" {
		t.Fatalf("itoa(8090) = %q, want 8090", got)
	}
}
