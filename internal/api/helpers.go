package api

import (
	"time"

	"github.com/google/uuid"
)

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func newTraceID() string {
	return uuid.NewString()
}
