package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// tokenSecretKey is where the serialized record lives in the secret store.
const tokenSecretKey = "oauth/tokens"

type tokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

func recordFromToken(token *oauth2.Token, previousIDToken string) tokenRecord {
	rec := tokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		rec.ExpiresAt = token.Expiry.Unix()
	}
	// Refresh responses may omit the id_token; the previous one keeps
	// identifying the same principal.
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		rec.IDToken = idToken
	} else {
		rec.IDToken = previousIDToken
	}
	return rec
}

func decodeTokenRecord(secretValue string) (tokenRecord, error) {
	var rec tokenRecord
	if err := json.Unmarshal([]byte(secretValue), &rec); err != nil {
		return tokenRecord{}, fmt.Errorf("decode oauth tokens: %w", err)
	}
	if strings.TrimSpace(rec.AccessToken) == "" {
		return tokenRecord{}, fmt.Errorf("oauth tokens missing access_token")
	}
	return rec, nil
}

func (r tokenRecord) encode() (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode oauth tokens: %w", err)
	}
	return string(payload), nil
}

func (r tokenRecord) expiry() time.Time {
	if r.ExpiresAt <= 0 {
		return time.Time{}
	}
	return time.Unix(r.ExpiresAt, 0)
}

func (r tokenRecord) expiringSoon(now time.Time, skew time.Duration) bool {
	if r.ExpiresAt <= 0 {
		return false
	}
	return !r.expiry().After(now.Add(skew))
}
