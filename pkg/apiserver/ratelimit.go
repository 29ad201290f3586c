// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package apiserver

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a "requests/minutes" rate limit specification.
type RateLimit string

// Parse returns the number of requests allowed per number of minutes,
// an empty rate limit returns zero values.
func (r RateLimit) Parse() (requests int, minutes int, err error) {
	s := strings.TrimSpace(string(r))
	if s == "" {
		return 0, 0, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rate limit %q must be of the form requests/minutes", s)
	}
	requests, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return 0, 0, fmt.Errorf("bad number of requests in rate limit %q", s)
	}
	minutes, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minutes <= 0 {
		return 0, 0, fmt.Errorf("bad number of minutes in rate limit %q", s)
	}

	return requests, minutes, nil
}

// pushLimiter tracks key submissions per remote address.
type pushLimiter struct {
	mu           sync.Mutex
	usersLimit   map[string]*rate.Limiter
	rateMinutes  int
	rateRequests int
}

func newPushLimiter(rl RateLimit) (*pushLimiter, error) {
	requests, minutes, err := rl.Parse()
	if err != nil {
		return nil, err
	} else if requests == 0 {
		return nil, nil
	}
	return &pushLimiter{
		usersLimit:   make(map[string]*rate.Limiter),
		rateMinutes:  minutes,
		rateRequests: requests,
	}, nil
}

// limitReached reports whether ip exceeded its submission rate.
func (p *pushLimiter) limitReached(ip string) bool {
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.usersLimit[ip]
	if !ok {
		every := time.Duration(p.rateMinutes) * time.Minute / time.Duration(p.rateRequests)
		limiter = rate.NewLimiter(rate.Every(every), p.rateRequests)
		p.usersLimit[ip] = limiter
	}

	return !limiter.Allow()
}
