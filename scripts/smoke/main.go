// Package main runs read-only smoke checks against a deployed ligai API.
//
// With --number it also dials one test call through the operator API.
//
// Usage:
//
//	go run ./scripts/smoke --api=http://localhost:8000 [--secret=SECRET] [--number=5511999999999]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	flagAPI    string
	flagSecret string
	flagNumber string
	token      string
	client     = &http.Client{Timeout: 15 * time.Second}
)

func init() {
	flag.StringVar(&flagAPI, "api", "http://localhost:8000", "API base URL")
	flag.StringVar(&flagSecret, "secret", "", "Admin JWT secret (or ADMIN_JWT_SECRET env)")
	flag.StringVar(&flagNumber, "number", "", "Dial this number after the read-only checks")
}

// ---------------------------------------------------------------------------
// JWT
// ---------------------------------------------------------------------------

func generateJWT(secret string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "smoke",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func call(method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimRight(flagAPI, "/")+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" && strings.HasPrefix(path, "/admin") {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, raw, err
}

type check struct {
	name   string
	method string
	path   string
	body   any
	want   int
}

func run(c check) bool {
	status, raw, err := call(c.method, c.path, c.body)
	switch {
	case err != nil:
		fmt.Printf("  ❌ %s: %v\n", c.name, err)
		return false
	case status != c.want:
		fmt.Printf("  ❌ %s: status %d, want %d: %s\n", c.name, status, c.want, truncate(string(raw), 200))
		return false
	}
	fmt.Printf("  ✅ %s: %s\n", c.name, truncate(string(raw), 120))
	return true
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	flag.Parse()
	if flagSecret == "" {
		flagSecret = os.Getenv("ADMIN_JWT_SECRET")
	}
	if flagSecret == "" {
		fmt.Fprintln(os.Stderr, "--secret or ADMIN_JWT_SECRET is required")
		os.Exit(2)
	}
	var err error
	if token, err = generateJWT(flagSecret); err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(2)
	}

	checks := []check{
		{name: "Health", method: http.MethodGet, path: "/health", want: http.StatusOK},
		{name: "Metrics", method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{name: "Active calls", method: http.MethodGet, path: "/admin/calls/active", want: http.StatusOK},
		{name: "Campaigns", method: http.MethodGet, path: "/admin/campaigns", want: http.StatusOK},
		{name: "Schedules", method: http.MethodGet, path: "/admin/schedules", want: http.StatusOK},
		{name: "Active prompt", method: http.MethodGet, path: "/admin/prompts/active", want: http.StatusOK},
		{name: "Webhook events", method: http.MethodGet, path: "/admin/webhooks/events", want: http.StatusOK},
	}
	if flagNumber != "" {
		checks = append(checks, check{
			name:   "Dial " + flagNumber,
			method: http.MethodPost,
			path:   "/admin/calls/dial",
			body:   map[string]string{"phone_number": flagNumber},
			want:   http.StatusOK,
		})
	}

	fmt.Printf("Smoke checks against %s\n", flagAPI)
	failed := 0
	for _, c := range checks {
		if !run(c) {
			failed++
		}
	}
	fmt.Println()
	if failed == 0 {
		fmt.Println("✅ ALL CHECKS PASSED")
		return
	}
	fmt.Printf("❌ %d CHECKS FAILED\n", failed)
	os.Exit(1)
}
