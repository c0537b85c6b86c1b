// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/warden/internal/auth"
	"github.com/tomtom215/warden/internal/config"
)

// runToken prints a signed API token for the upload backend (role service),
// a reviewer or an administrator. The secret comes from the normal
// configuration sources.
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "token subject (caller id)")
	roles := fs.String("roles", auth.RoleReviewer, "comma separated roles")
	ttl := fs.Duration("ttl", 0, "token lifetime (default from configuration)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		return 1
	}
	lifetime := cfg.Security.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	m, err := auth.NewJWTManager(cfg.Security.JWTSecret, lifetime)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	token, err := m.GenerateToken(*subject, splitRoles(*roles))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(lifetime).UTC().Format(time.RFC3339))
	return 0
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
