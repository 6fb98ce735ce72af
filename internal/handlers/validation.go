package handlers

import (
	"errors"
	"time"

	"nyumbani/internal/money"
)

var errInvalidPrice = errors.New("invalid price")

func parsePriceMinor(raw string) (int64, error) {
	priceMinor, err := money.ParseMinor(raw)
	if err != nil || priceMinor <= 0 {
		return 0, errInvalidPrice
	}
	return priceMinor, nil
}

func secondsOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
