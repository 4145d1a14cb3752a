package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/impact/go/internal/gameconfig"
)

func setupServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", gameconfig.GetEnv("PORT", "8080")),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
