// Package models defines the domain types for Ansuz.
package models

import (
	"strings"
	"time"
)

// Note represents a persisted voice memo.
type Note struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Tags          []string   `json:"tags"`
	AudioPath     string     `json:"audio_path"`
	Reminder      *time.Time `json:"reminder,omitempty"`
	Transcription string     `json:"transcription,omitempty"`
}

// HasTranscription reports whether a transcription has been produced.
func (n Note) HasTranscription() bool {
	return n.Transcription != ""
}

// AuthSession is the single optional authentication credential of a running
// client. Token and Identity are always set and cleared together.
type AuthSession struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// SplitTags parses a comma-delimited tag string into trimmed, case-preserved
// tags. Empty segments are dropped.
func SplitTags(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// JoinTags renders tags in their comma-delimited wire form.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}
