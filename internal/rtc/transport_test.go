package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcall/client/internal/domain"
)

func TestAddRemoteCandidate_RejectsNegativeLineIndex(t *testing.T) {
	tr := &Transport{}

	err := tr.AddRemoteCandidate(domain.CandidatePayload{
		Candidate:     "candidate:1 1 udp 2122 10.0.0.5 53533 typ host",
		SDPMLineIndex: -1,
	})

	require.Error(t, err)
	assert.Empty(t, tr.pending)
}

func TestAddRemoteCandidate_BuffersBeforeRemoteDescription(t *testing.T) {
	tr := &Transport{}

	err := tr.AddRemoteCandidate(domain.CandidatePayload{
		Candidate: "candidate:1 1 udp 2122 10.0.0.5 53533 typ host",
	})

	require.NoError(t, err)
	assert.Len(t, tr.pending, 1)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("candidate:1 1 udp 2122 127.0.0.1 53533 typ host"))
	assert.False(t, isLoopback("candidate:1 1 udp 2122 10.0.0.5 53533 typ host"))
}
