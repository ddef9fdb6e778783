package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

func newDashboardServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
