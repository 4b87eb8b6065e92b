package cache

import (
	"strconv"
	"strings"
)

// qToken is one entry of a quality-weighted header list such as
// Accept-Encoding or a Vary axis value (RFC 7231 §5.3.1's q= syntax).
type qToken struct {
	name string
	q    float64
}

// qList is a parsed quality-weighted header value.
type qList []qToken

// parseQList parses a comma-separated, optionally q-weighted token list.
// A missing header yields a nil slice, which callers treat as "no
// restriction".
func parseQList(header string) qList {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	tokens := make([]qToken, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name := p
		q := 1.0
		if idx := strings.Index(p, ";"); idx >= 0 {
			name = strings.TrimSpace(p[:idx])
			params := p[idx+1:]
			for _, param := range strings.Split(params, ";") {
				param = strings.TrimSpace(param)
				if v, ok := strings.CutPrefix(param, "q="); ok {
					if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
						q = f
					}
				}
			}
		}
		tokens = append(tokens, qToken{name: strings.ToLower(name), q: q})
	}
	return qList(tokens)
}

// prohibited reports whether token name carries an explicit q=0 — RFC
// 7231's notation for "never use this".
func (toks qList) prohibited(name string) bool {
	for _, t := range toks {
		if t.name == name && t.q == 0 {
			return true
		}
	}
	return false
}

// allows reports whether name is acceptable: either explicitly listed with
// q>0, matched by a "*" wildcard with q>0, or the list is empty (no
// restriction stated).
func (toks qList) allows(name string) bool {
	if len(toks) == 0 {
		return true
	}
	starQ, starSeen := 1.0, false
	for _, t := range toks {
		if t.name == name {
			return t.q > 0
		}
		if t.name == "*" {
			starQ, starSeen = t.q, true
		}
	}
	if starSeen {
		return starQ > 0
	}
	return false
}
