// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
)

// TokenHeader carries the shared caller secret.
const TokenHeader = "X-Keepsake-Token"

// authMiddleware authenticates every request except the health probe:
// the source address must fall inside the allowlist (when one is
// configured) and the token header must match the shared secret.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !s.remoteAllowed(r.RemoteAddr) {
			slog.Warn("rejected request from disallowed address",
				"remote", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writeAuthError(w, http.StatusForbidden, "source address not allowed")
			return
		}

		token := r.Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SharedSecret)) != 1 {
			writeAuthError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// remoteAllowed checks remoteAddr against the configured allowlist. The
// RealIP middleware has already rewritten RemoteAddr from proxy headers.
func (s *Server) remoteAllowed(remoteAddr string) bool {
	if len(s.allowed) == 0 {
		return true
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, ipNet := range s.allowed {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"title":  http.StatusText(status),
		"detail": detail,
	})
}
