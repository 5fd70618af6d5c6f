package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestWantsSpeakerIdentification(t *testing.T) {
	cases := []struct {
		name string
		n    *int
		want bool
	}{
		{"unset", nil, false},
		{"zero", intPtr(0), false},
		{"one", intPtr(1), false},
		{"two", intPtr(2), true},
		{"five", intPtr(5), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewDocumentTaskGraphParams{NumberOfSpeakers: tc.n}
			assert.Equal(t, tc.want, p.wantsSpeakerIdentification())
		})
	}
}
